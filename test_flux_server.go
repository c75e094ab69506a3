package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type TurnInfoMessage struct {
	Type       string  `json:"type"`
	Event      string  `json:"event"`
	TurnIndex  int     `json:"turn_index"`
	Transcript string  `json:"transcript"`
	AudioSec   float64 `json:"audio_window_end"`
}

type MetadataMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func listenHandler(w http.ResponseWriter, r *http.Request) {
	requestID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	w.Header().Set("Dg-Request-Id", requestID)

	conn, err := upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	q := r.URL.Query()
	log.Printf("🎤 NEW STREAM: request_id=%s model=%s sample_rate=%s encoding=%s auth=%q",
		requestID, q.Get("model"), q.Get("sample_rate"), q.Get("encoding"),
		r.Header.Get("Authorization"))

	sampleRate := 16000
	fmt.Sscanf(q.Get("sample_rate"), "%d", &sampleRate)
	bytesPerSecond := sampleRate * 2

	meta, _ := json.Marshal(MetadataMessage{
		Type:      "Metadata",
		RequestID: requestID,
		Model:     q.Get("model"),
	})
	if err := conn.WriteMessage(websocket.TextMessage, meta); err != nil {
		return
	}

	totalBytes := 0
	turn := 0
	lastTurnAt := 0

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("📴 STREAM ENDED: request_id=%s bytes=%d turns=%d (%v)",
				requestID, totalBytes, turn, err)
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			totalBytes += len(data)

			// Emit a turn update roughly once per second of audio.
			if totalBytes-lastTurnAt >= bytesPerSecond {
				lastTurnAt = totalBytes
				turn++
				msg, _ := json.Marshal(TurnInfoMessage{
					Type:       "TurnInfo",
					Event:      "Update",
					TurnIndex:  turn,
					Transcript: fmt.Sprintf("test transcript for turn %d", turn),
					AudioSec:   float64(totalBytes) / float64(bytesPerSecond),
				})
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}

		case websocket.TextMessage:
			var control struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &control); err != nil {
				log.Printf("⚠️  BAD CONTROL MESSAGE: %s", data)
				continue
			}
			if control.Type != "CloseStream" {
				log.Printf("⚠️  UNKNOWN CONTROL MESSAGE: %s", control.Type)
				continue
			}

			log.Printf("🏁 CLOSE STREAM: request_id=%s bytes=%d", requestID, totalBytes)

			// Flush a final turn and say goodbye like the real service.
			final, _ := json.Marshal(TurnInfoMessage{
				Type:       "TurnInfo",
				Event:      "EndOfTurn",
				TurnIndex:  turn + 1,
				Transcript: "final test transcript",
				AudioSec:   float64(totalBytes) / float64(bytesPerSecond),
			})
			conn.WriteMessage(websocket.TextMessage, final)

			eot, _ := json.Marshal(map[string]string{"type": "EndOfTurn"})
			conn.WriteMessage(websocket.TextMessage, eot)

			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func main() {
	http.HandleFunc("/v2/listen", listenHandler)

	port := ":8119"
	log.Printf("🚀 Test Flux Server starting on port %s", port)
	log.Printf("📡 Endpoint: ws://localhost%s/v2/listen", port)
	log.Println("💡 Run the load generator with: -endpoint ws://localhost:8119")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
