package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRealtimeStreamEmitsDocumentChangedEvents(t *testing.T) {
	api := newTestAPI(t, time.Hour)
	token := api.token(t, "user-1")

	streamRequest, err := http.NewRequest(http.MethodGet, api.server.URL+"/profiles/user-1/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for api.dispatcher.subscriberCount("user-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if status, body := api.do(t, http.MethodPut, "/profiles/user-1/document", token, []byte(sampleDocument)); status != http.StatusOK {
		t.Fatalf("unexpected write status: %d: %s", status, body)
	}

	streamReader := bufio.NewReader(streamResp.Body)
	type eventPayload struct {
		Source          string `json:"source"`
		ServerTimestamp int64  `json:"_ts"`
	}

	currentEventType := ""
	timeout := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != RealtimeEventDocumentChanged {
				continue
			}
			var payload eventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.ServerTimestamp != 1700000000777 {
				t.Fatalf("unexpected server timestamp: %d", payload.ServerTimestamp)
			}
			if payload.Source != realtimeSourceBackend {
				t.Fatalf("unexpected source: %q", payload.Source)
			}
			return
		}
	}
}
