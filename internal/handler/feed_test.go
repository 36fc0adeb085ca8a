package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/middleware"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

type wireMessage struct {
	Feed  string     `json:"feed"`
	Items []wireItem `json:"items"`
}

// wireItem покрывает поля снимков, которые проверяют тесты.
type wireItem struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Title  string `json:"title"`
}

func dialFeed(t *testing.T, h *Handler, path, memberID string, header http.Header) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	w := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(w, memberID)
	if header == nil {
		header = http.Header{}
	}
	for _, c := range w.Result().Cookies() {
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFeeds(t *testing.T, conn *websocket.Conn, n int) map[string]wireMessage {
	t.Helper()

	got := make(map[string]wireMessage)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(got) < n {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		got[msg.Feed] = msg
	}
	return got
}

func TestMemberFeed_SendsInitialSnapshots(t *testing.T) {
	svc := &stubService{
		member:        &model.Member{ID: "m1", Handle: "alice"},
		announcements: []model.Announcement{{ID: "a1", Title: "Hello"}},
	}
	h := newTestHandler(t, svc)

	conn := dialFeed(t, h, "/api/user/feed", "m1", nil)
	got := readFeeds(t, conn, 4)

	require.Contains(t, got, "member")
	require.Len(t, got["member"].Items, 1)
	assert.Equal(t, "alice", got["member"].Items[0].Handle)

	require.Contains(t, got, "logs")
	assert.NotNil(t, got["logs"].Items)
	assert.Empty(t, got["logs"].Items)

	require.Contains(t, got, "requests")
	require.Contains(t, got, "announcements")
	assert.Equal(t, "Hello", got["announcements"].Items[0].Title)
}

func TestMemberFeed_PushesOnChange(t *testing.T) {
	svc := &stubService{member: &model.Member{ID: "m1", Handle: "alice"}}
	h := newTestHandler(t, svc)

	conn := dialFeed(t, h, "/api/user/feed", "m1", nil)
	readFeeds(t, conn, 4)

	svc.broker.Publish(feed.Change{Collection: feed.Members, ID: "m1", MemberID: "m1"})

	got := readFeeds(t, conn, 1)
	assert.NotEmpty(t, got)
}

func TestOfficerFeed_RequiresOfficer(t *testing.T) {
	svc := &stubService{verifyErr: model.ErrUnauthorized}
	h := newTestHandler(t, svc)

	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	w := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(w, "m1")
	header := http.Header{}
	for _, c := range w.Result().Cookies() {
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/officer/feed"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOfficerFeed_SendsSnapshots(t *testing.T) {
	svc := &stubService{
		members:  []model.Member{{ID: "m1", Handle: "alice"}, {ID: "m2", Handle: "bob"}},
		requests: []model.SpendRequest{{ID: "r1", Handle: "alice"}},
	}
	h := newTestHandler(t, svc)

	header := http.Header{}
	header.Set(middleware.OfficerTokenHeader, "tok")
	conn := dialFeed(t, h, "/api/officer/feed", "o1", header)
	got := readFeeds(t, conn, 3)

	assert.Len(t, got["members"].Items, 2)
	assert.Len(t, got["pending"].Items, 1)
	assert.Contains(t, got, "announcements")
}
