package memstore_test

import (
	"testing"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/store/memstore"
	"github.com/whisper/chatroom/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) chat.Store { return memstore.New() })
}
