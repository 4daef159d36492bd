// Command pushcam is a test relay for cloud cameras. It pairs with a
// running daemon using a claim code, then pushes JPEG frames to the push
// endpoint, either a directory of images replayed in a loop or a single
// file repeated. Useful for exercising a setup without real hardware.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pushcam", flag.ContinueOnError)
	server := fs.String("server", "http://127.0.0.1:8090", "daemon base URL")
	claim := fs.String("claim", "", "claim code from add_camera")
	cameraID := fs.String("camera", "", "already-paired camera id (skips pairing)")
	token := fs.String("token", "", "camera token (with -camera)")
	source := fs.String("source", "", "JPEG file or directory of JPEGs to push")
	fps := fs.Float64("fps", 1.0, "push rate in frames per second")
	count := fs.Int("count", 0, "stop after N frames (0 pushes forever)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "-source is required")
		return 1
	}

	frames, err := loadFrames(*source)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load frames:", err)
		return 1
	}

	id, tok := *cameraID, *token
	if id == "" {
		if *claim == "" {
			fmt.Fprintln(os.Stderr, "either -claim or -camera/-token is required")
			return 1
		}
		id, tok, err = register(*server, *claim)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pairing failed:", err)
			return 1
		}
		fmt.Printf("paired: camera_id=%s camera_token=%s\n", id, tok)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/push/frame/%s", strings.TrimRight(*server, "/"), id)
	interval := time.Duration(float64(time.Second) / *fps)

	sent := 0
	for {
		frame := frames[sent%len(frames)]
		if err := pushFrame(client, url, tok, frame); err != nil {
			fmt.Fprintln(os.Stderr, "push:", err)
			return 1
		}
		sent++
		if *count > 0 && sent >= *count {
			fmt.Printf("pushed %d frame(s)\n", sent)
			return 0
		}
		time.Sleep(interval)
	}
}

func loadFrames(path string) ([][]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no .jpg files in %s", path)
	}
	frames := make([][]byte, 0, len(names))
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(path, n))
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func register(server, claim string) (id, token string, err error) {
	body, _ := json.Marshal(map[string]string{"claim_code": claim})
	resp, err := http.Post(strings.TrimRight(server, "/")+"/push/register",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("daemon returned %s", resp.Status)
	}
	var out struct {
		CameraID    string `json:"camera_id"`
		CameraToken string `json:"camera_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.CameraID, out.CameraToken, nil
}

func pushFrame(client *http.Client, url, token string, frame []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if token != "" {
		req.Header.Set("X-Camera-Token", token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		// Backoff and keep going, the daemon sheds load on purpose.
		time.Sleep(time.Second)
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
