// Command fakestt is a local transcription endpoint for trying voicecap
// without a real speech-to-text service.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/skypro1111/voicecap/internal/audio"
)

type result struct {
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
}

type transcriptionResponse struct {
	Results []result `json:"results"`
}

type handler struct {
	field      string
	transcript string
	token      string
	delay      time.Duration
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(h.field)
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		http.Error(w, "Invalid WAV: "+err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("Transcription request: id=%s file=%s bytes=%d rate=%d duration=%.2fs",
		r.Header.Get("X-Request-ID"), header.Filename, len(data), info.SampleRate, info.Duration)

	time.Sleep(h.delay)

	response := transcriptionResponse{Results: []result{}}
	if h.transcript != "" {
		response.Results = append(response.Results, result{Transcript: h.transcript, Confidence: 0.95})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("Transcription response sent: %q", h.transcript)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	field := flag.String("field", "file", "Multipart file field name")
	transcript := flag.String("transcript", "this is a test transcription", "Transcript to return, empty for no results")
	token := flag.String("token", "", "Require this bearer token")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	http.Handle("/transcribe", &handler{
		field:      *field,
		transcript: *transcript,
		token:      *token,
		delay:      *delay,
	})

	log.Printf("Fake transcription server listening on %s, endpoint /transcribe", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
