//go:build gomock || generate

package qweave

//go:generate sh -c "go run go.uber.org/mock/mockgen -typed -build_flags=\"-tags=gomock\" -package qweave -self_package github.com/qweave/qweave -destination mock_sender_test.go github.com/qweave/qweave Sender"
