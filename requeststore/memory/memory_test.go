package memory

import (
	"testing"

	"github.com/tutorlink/tutorlink/requeststore"
	"github.com/tutorlink/tutorlink/requeststore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) requeststore.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
