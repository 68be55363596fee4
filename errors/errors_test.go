package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/kvemit/fatfs/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind_WithMessage(t *testing.T) {
	newErr := errors.KindNoFile.WithMessage("hello.txt")
	assert.Equal(t, "no such file: hello.txt", newErr.Error())
	assert.ErrorIs(t, newErr, errors.KindNoFile)
}

func TestKind_WrapError(t *testing.T) {
	original := stderrors.New("short read")
	newErr := errors.KindDiskErr.WrapError(original)

	assert.Equal(t, "disk I/O failure: short read", newErr.Error())
	assert.ErrorIs(t, newErr, errors.KindDiskErr)
	assert.ErrorIs(t, newErr, original)
}

func TestKind_ChainedMessagesPreserveKind(t *testing.T) {
	err := errors.KindExist.WithMessage("REPORTS~1.202").WithMessage("during CreateNew")
	assert.ErrorIs(t, err, errors.KindExist)
	assert.Equal(t, errors.KindExist, err.Code())
}
