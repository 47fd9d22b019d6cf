package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesChatroomMetrics(t *testing.T) {
	req := require.New(t)

	EvictionsTotal.Inc()
	MessagesTotal.WithLabelValues("message").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	req.Equal(http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	req.NoError(err)
	for _, name := range []string{"chatroom_evictions_total", "chatroom_messages_total", "chatroom_participants_online"} {
		req.True(strings.Contains(string(body), name), "missing %s", name)
	}
}
