package nnet

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Errors returned by the network and training functions. Use errors.Cause to test for them.
var (
	ErrShape    = errors.New("input shape does not match network")
	ErrLabel    = errors.New("label out of range")
	ErrDiverged = errors.New("loss is not finite")
)

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
