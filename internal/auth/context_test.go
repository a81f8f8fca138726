// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Covers attach, retrieve, absence and the panicking accessor

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAuthAndFromContext(t *testing.T) {
	authCtx := &AuthContext{Identity: "alice", Token: Token{ID: "jti-1"}}
	ctx := WithAuth(context.Background(), authCtx)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() returned nil")
	}
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, "jti-1", got.Token.ID)
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() { MustFromContext(context.Background()) })
	assert.NotPanics(t, func() {
		MustFromContext(WithAuth(context.Background(), &AuthContext{Identity: "bob"}))
	})
}

func TestActor(t *testing.T) {
	assert.Equal(t, "operator", Actor(context.Background(), "operator"))
	assert.Equal(t, "operator", Actor(WithAuth(context.Background(), &AuthContext{}), "operator"))
	assert.Equal(t, "alice", Actor(WithAuth(context.Background(), &AuthContext{Identity: "alice"}), "operator"))
}
