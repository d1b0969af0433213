package memory

import (
	"testing"

	"github.com/mmynk/splitledger/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, New())
}
