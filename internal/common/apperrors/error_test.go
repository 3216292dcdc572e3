package apperrors

import (
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("chaining", func(t *testing.T) {
		ErrBase := New("base error")
		assert.Equal(t, "base error", ErrBase.Error())
		assert.Equal(t, "msg", ErrBase.New("msg").Error())
		assert.ErrorIs(t, ErrBase, ErrBase)

		ErrFirstLevel := ErrBase.New("first level")
		assert.ErrorIs(t, ErrFirstLevel, ErrBase)

		ErrOther := New("another error")
		ErrOtherMsg := ErrOther.Msg("another error msg")
		wrapped := ErrFirstLevel.Err(ErrOtherMsg)
		assert.Equal(t, "first level", wrapped.Error())
		assert.ErrorIs(t, wrapped, ErrBase)
		assert.ErrorIs(t, wrapped, ErrFirstLevel)
		assert.ErrorIs(t, wrapped, ErrOther)
		assert.ErrorIs(t, wrapped, ErrOtherMsg)

		goErr := errors.New("connection refused")
		wrapped = ErrFirstLevel.MsgErr("unable to list apps", goErr)
		assert.Equal(t, "unable to list apps", wrapped.Error())
		assert.ErrorIs(t, wrapped, ErrBase)
		assert.ErrorIs(t, wrapped, goErr)
		assert.Equal(t, "unable to list apps: connection refused", wrapped.ErrorAll())
	})

	t.Run("status code is inherited", func(t *testing.T) {
		ErrUnauthorized := New("unauthorized").SetStatusCode(http.StatusUnauthorized)
		err := ErrUnauthorized.Msg("token rejected")
		assert.Equal(t, http.StatusUnauthorized, err.StatusCode())
		assert.Equal(t, 0, New("plain").StatusCode())
	})

	t.Run("fields", func(t *testing.T) {
		ErrRequest := New("request failed")
		inner := ErrRequest.WithField("endpoint", "/apps").WithField("status", 500)
		outer := New("stage failed").WithField("stage", "applications").Err(inner)

		fields := outer.Fields()
		assert.Equal(t, "/apps", fields["endpoint"])
		assert.Equal(t, 500, fields["status"])
		assert.Equal(t, "applications", fields["stage"])

		// sentinels stay untouched
		assert.Empty(t, ErrRequest.Fields())
	})

	t.Run("as reaches attached errors", func(t *testing.T) {
		pathErr := &os.PathError{Op: "open", Path: "catalogsync.toml", Err: os.ErrNotExist}
		err := New("config failed").MsgErr("unable to read config", pathErr)

		var target *os.PathError
		assert.True(t, errors.As(err, &target))
		assert.Equal(t, "catalogsync.toml", target.Path)
	})

	t.Run("fmt wrapping", func(t *testing.T) {
		ErrDecode := New("decode failed")
		err := fmt.Errorf("listing resources: %w", ErrDecode.Msg("bad payload"))
		assert.ErrorIs(t, err, ErrDecode)
	})
}
