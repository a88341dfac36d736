package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad payload"), false},
		{"marked", Transient(errors.New("x")), true},
		{"wrapped marked", eris.Wrap(Transient(errors.New("x")), "store: insert"), true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransient_Nil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}
