package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// sandboxState mirrors the JSON served by the sandbox at /admin/v1/state.
type sandboxState struct {
	Tick       uint64 `json:"tick"`
	NoteBlocks int    `json:"note_blocks"`
	Agents     []struct {
		ID      string     `json:"id"`
		Name    string     `json:"name"`
		Pos     [3]float64 `json:"pos"`
		Walking bool       `json:"walking"`
		Moving  bool       `json:"moving"`
		Drops   uint64     `json:"drops"`
	} `json:"agents"`
	Played int    `json:"played"`
	Chats  int    `json:"chats"`
	Drops  uint64 `json:"drops"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "sandbox base url")
	raw := fs.Bool("raw", false, "print the response body as is")
	_ = fs.Parse(args)

	st, body, err := fetchState(&http.Client{Timeout: 5 * time.Second}, *baseURL)
	if *raw && body != nil {
		fmt.Println(strings.TrimSpace(string(body)))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		return
	}
	fmt.Printf("tick=%d note_blocks=%d played=%d chats=%d drops=%d agents=%d\n",
		st.Tick, st.NoteBlocks, st.Played, st.Chats, st.Drops, len(st.Agents))
	for _, a := range st.Agents {
		fmt.Printf("  %s %s pos=%.2f,%.2f,%.2f walking=%t moving=%t drops=%d\n",
			a.ID, a.Name, a.Pos[0], a.Pos[1], a.Pos[2], a.Walking, a.Moving, a.Drops)
	}
}

func fetchState(cl *http.Client, baseURL string) (sandboxState, []byte, error) {
	var st sandboxState
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	resp, err := cl.Get(u)
	if err != nil {
		return st, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return st, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return st, b, fmt.Errorf("status %s", resp.Status)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, b, fmt.Errorf("decode: %w", err)
	}
	return st, b, nil
}
