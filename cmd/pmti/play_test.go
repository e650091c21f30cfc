package main

import (
	"testing"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/client"
	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewFeedKeepsLatest(t *testing.T) {
	feed := newViewFeed()

	// Nobody reads while many views arrive, as during a reconnect.
	for i := 0; i < 100; i++ {
		feed.publish(client.View{Phase: client.PhaseReady, QuestionNumber: i})
	}
	feed.publish(client.View{Phase: client.PhaseCompleted})

	select {
	case <-feed.changed:
	case <-time.After(time.Second):
		t.Fatal("no change signalled")
	}
	assert.Equal(t, client.PhaseCompleted, feed.latest().Phase)

	select {
	case <-feed.changed:
		t.Fatal("change signalled twice for one batch")
	default:
	}
}

func TestEmailFromToken(t *testing.T) {
	auth := services.NewAuthService(services.AuthConfig{Secret: "s", TTL: time.Hour})
	token, err := auth.GenerateToken("Alice@Cornell.edu")
	require.NoError(t, err)

	email, err := emailFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@cornell.edu", email)

	_, err = emailFromToken("not-a-token")
	assert.Error(t, err)
}
