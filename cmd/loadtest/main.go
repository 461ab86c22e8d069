package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	baseURL   = flag.String("base-url", "http://localhost:8080", "server base URL")
	pairs     = flag.Int("pairs", 50, "number of user pairs; each pair shares one private chat")
	msgCount  = flag.Int("messages", 20, "messages sent by each user")
	sendDelay = flag.Duration("delay", 10*time.Millisecond, "pause between two sends of one user")
	drainWait = flag.Duration("drain", 5*time.Second, "how long readers wait for the last push events")
)

type authResponse struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type startChatResponse struct {
	ChatID int64 `json:"chat_id"`
}

type conversation struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

type event struct {
	Type         string        `json:"type"`
	Conversation *conversation `json:"conversation"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	flag.Parse()
	log := zap.Must(zap.NewDevelopment()).Sugar()
	defer log.Sync()

	log.Infof("starting load test: %d users, %d messages each", *pairs*2, *msgCount)
	start := time.Now()
	st := &stats{}

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID, st); err != nil {
				st.failed.Add(1)
				log.Warnf("pair %d failed: %v", pairID, err)
			}
		}(i)
	}
	wg.Wait()

	expected := int64(*pairs) * int64(*msgCount) * 2 * 2
	log.Infof("done in %s: sent=%d received=%d expected=%d failed_pairs=%d",
		time.Since(start).Round(time.Millisecond), st.sent.Load(), st.received.Load(), expected, st.failed.Load())
	if st.failed.Load() > 0 {
		os.Exit(1)
	}
}

// runPair registers two users, opens their private chat, joins it from both
// sides and sends messages over REST while counting push events.
func runPair(pairID int, st *stats) error {
	suffix := time.Now().UnixNano()
	userA := fmt.Sprintf("lt_%d_a_%d", pairID, suffix)
	userB := fmt.Sprintf("lt_%d_b_%d", pairID, suffix)
	const pass = "password123"

	a, err := authenticate(userA, pass)
	if err != nil {
		return err
	}
	b, err := authenticate(userB, pass)
	if err != nil {
		return err
	}

	chatID, err := startChat(a.Token, b.ID, "hello from "+userA)
	if err != nil {
		return err
	}

	connA, err := joinChat(a.Token, chatID)
	if err != nil {
		return err
	}
	defer connA.Close()
	connB, err := joinChat(b.Token, chatID)
	if err != nil {
		return err
	}
	defer connB.Close()

	var readers sync.WaitGroup
	readers.Add(2)
	go countEvents(&readers, connA, st)
	go countEvents(&readers, connB, st)

	var writers sync.WaitGroup
	writers.Add(2)
	go sendMessages(&writers, a.Token, chatID, userA, st)
	go sendMessages(&writers, b.Token, chatID, userB, st)
	writers.Wait()

	readers.Wait()
	return nil
}

func authenticate(username, password string) (*authResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := postJSON("/register", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", "", creds)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func startChat(token string, receiverID int64, message string) (int64, error) {
	resp, err := postJSON("/api/private_chats", token, map[string]any{"receiver_id": receiverID, "message": message})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("start chat: status %d", resp.StatusCode)
	}

	var data startChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, err
	}
	return data.ChatID, nil
}

func joinChat(token string, chatID int64) (*websocket.Conn, error) {
	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	join := map[string]any{"type": "join", "conversation": conversation{Kind: "private", ID: chatID}}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, err
	}

	var ack event
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "joined" {
		conn.Close()
		return nil, fmt.Errorf("join chat %d: %q %v", chatID, ack.Type, err)
	}
	return conn, nil
}

func countEvents(wg *sync.WaitGroup, conn *websocket.Conn, st *stats) {
	defer wg.Done()
	for {
		conn.SetReadDeadline(time.Now().Add(*drainWait))
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Type == "new_message" {
			st.received.Add(1)
		}
	}
}

func sendMessages(wg *sync.WaitGroup, token string, chatID int64, user string, st *stats) {
	defer wg.Done()
	endpoint := fmt.Sprintf("/api/private_chats/%d/messages", chatID)
	for i := 0; i < *msgCount; i++ {
		resp, err := postJSON(endpoint, token, map[string]string{
			"message": fmt.Sprintf("LoadTest Msg %d from %s", i, user),
		})
		if err != nil {
			return
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusCreated {
			st.sent.Add(1)
		}
		time.Sleep(*sendDelay)
	}
}

func postJSON(endpoint, token string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, *baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
