package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPairKey(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()

	// Order of arguments does not matter.
	assert.Equal(t, PairKey(u1, u2), PairKey(u2, u1))
	assert.NotEqual(t, PairKey(u1, u2), PairKey(u1, uuid.New()))

	// The smaller id always comes first.
	key := PairKey(u1, u2)
	assert.Contains(t, key, ":")
	assert.Less(t, key[:36], key[37:])
}

func TestHasParticipant(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()
	conv := Conversation{Participants: []User{{Id: u1}, {Id: u2}}}

	assert.True(t, conv.HasParticipant(u1))
	assert.True(t, conv.HasParticipant(u2))
	assert.False(t, conv.HasParticipant(uuid.New()))
}

func TestTimeNow(t *testing.T) {
	now := TimeNow()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
}

func TestStoreError(t *testing.T) {
	assert.Equal(t, "duplicate value", ErrDuplicate.Error())
	assert.ErrorIs(t, error(ErrNotFound), ErrNotFound)
}
