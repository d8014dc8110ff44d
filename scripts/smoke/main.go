// Command smoke exercises the authentication flow against a running API
// instance: register, login, authenticated fetch, refresh rotation and the
// replay rejection that rotation implies. Intended for post-deploy checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type step struct {
	Name string
	OK   bool
	Note string
}

func main() {
	var (
		base     string
		email    string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including prefix")
	flag.StringVar(&email, "email", fmt.Sprintf("smoke-%d@example.com", time.Now().Unix()), "account email to register")
	flag.StringVar(&password, "password", "smoke-pass-123", "account password")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	var steps []step

	status, _, err := postJSON(client, base+"/auth/register", "", map[string]string{
		"email":     email,
		"full_name": "Smoke Check",
		"password":  password,
	})
	steps = append(steps, step{"register", err == nil && (status == http.StatusCreated || status == http.StatusConflict), fmt.Sprintf("status=%d", status)})

	status, body, err := postJSON(client, base+"/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	var pair tokenPair
	loginOK := err == nil && status == http.StatusOK && decodeData(body, &pair) == nil && pair.AccessToken != ""
	steps = append(steps, step{"login", loginOK, fmt.Sprintf("status=%d", status)})
	if !loginOK {
		report(steps)
	}

	status, _, err = getJSON(client, base+"/auth/me", pair.AccessToken)
	steps = append(steps, step{"me", err == nil && status == http.StatusOK, fmt.Sprintf("status=%d", status)})

	oldRefresh := pair.RefreshToken
	status, body, err = postJSON(client, base+"/auth/refresh", "", map[string]string{"refresh_token": oldRefresh})
	var rotated tokenPair
	refreshOK := err == nil && status == http.StatusOK && decodeData(body, &rotated) == nil && rotated.RefreshToken != oldRefresh
	steps = append(steps, step{"refresh", refreshOK, fmt.Sprintf("status=%d", status)})

	status, _, err = postJSON(client, base+"/auth/refresh", "", map[string]string{"refresh_token": oldRefresh})
	steps = append(steps, step{"refresh replay rejected", err == nil && status == http.StatusUnauthorized, fmt.Sprintf("status=%d", status)})

	if refreshOK {
		status, _, err = postJSON(client, base+"/auth/logout", rotated.AccessToken, map[string]string{"refresh_token": rotated.RefreshToken})
		steps = append(steps, step{"logout", err == nil && status == http.StatusNoContent, fmt.Sprintf("status=%d", status)})
	}

	report(steps)
}

func report(steps []step) {
	failed := 0
	for _, s := range steps {
		mark := "ok"
		if !s.OK {
			mark = "FAIL"
			failed++
		}
		fmt.Printf("%-28s %-5s %s\n", s.Name, mark, s.Note)
	}
	if failed > 0 {
		log.Printf("%d step(s) failed", failed)
		os.Exit(1)
	}
	os.Exit(0)
}

func postJSON(client *http.Client, url, token string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return do(client, req)
}

func getJSON(client *http.Client, url, token string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func decodeData(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}
