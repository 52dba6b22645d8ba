package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/investigation"
)

func dialStream(t *testing.T, ts *testServer, id string) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(ts.handler)
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/investigations/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) engine.TurnEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev engine.TurnEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestInvestigationStream(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t)
	conn := dialStream(t, ts, id)

	_, err := ts.srv.engine.Turn(context.Background(), engine.TurnRequest{
		InvestigationID: id,
		Input: investigation.TurnInput{
			TurnID:    "t1",
			Problem:   &investigation.ProblemConfirmation{Statement: "checkout fails with 502", Confirmed: true},
			Decisions: investigation.Decisions{OptIntoInvestigation: true},
		},
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, "turn", ev.Type)
	assert.Equal(t, id, ev.InvestigationID)
	assert.Equal(t, "t1", ev.TurnID)
	assert.Equal(t, investigation.PhaseTriage, ev.Phase)
	require.NotNil(t, ev.Result)
	require.Len(t, ev.Result.Transitions, 1)
}

func TestInvestigationStreamEndsOnClose(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t)
	conn := dialStream(t, ts, id)

	_, err := ts.srv.engine.Turn(context.Background(), engine.TurnRequest{
		InvestigationID: id,
		Input: investigation.TurnInput{
			TurnID:    "close",
			Decisions: investigation.Decisions{ForceClose: true, CloseReason: "duplicate"},
		},
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, "closed", ev.Type)
	assert.Equal(t, investigation.PhaseDocumentation, ev.Phase)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestInvestigationStreamUnknownID(t *testing.T) {
	ts := newTestServer(t, nil)
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/investigations/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
