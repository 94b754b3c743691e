package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func baseURL() string {
	if u := os.Getenv("FUSION_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

type step struct {
	name     string
	method   string
	endpoint string
	payload  any
	status   int
}

func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	suffix := fmt.Sprintf("%d", time.Now().Unix())
	entities := []map[string]any{
		{"id": "apple-1-" + suffix, "entity_type": "Company", "properties": map[string]any{"name": "Apple Inc.", "_provenance": []string{"doc-a"}}},
		{"id": "apple-2-" + suffix, "entity_type": "Company", "properties": map[string]any{"name": "Apple Inc", "_provenance": []string{"doc-b"}}},
		{"id": "msft-" + suffix, "entity_type": "Company", "properties": map[string]any{"name": "Microsoft"}},
	}
	relations := []map[string]any{
		{"id": "r1-" + suffix, "relation_type": "COMPETES_WITH", "source_id": "apple-1-" + suffix, "target_id": "msft-" + suffix, "properties": map[string]any{}},
		{"id": "r2-" + suffix, "relation_type": "COMPETES_WITH", "source_id": "apple-1-" + suffix, "target_id": "msft-" + suffix, "properties": map[string]any{"since": 1984}},
	}

	steps := []step{
		{"Health", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"Similarity", http.MethodPost, "/v1/similarity", map[string]any{"name_a": "IBM", "name_b": "International Business Machines", "entity_type": "Company"}, http.StatusOK},
		{"Deduplicate entities", http.MethodPost, "/v1/entities/deduplicate", map[string]any{"entities": entities}, http.StatusOK},
		{"Link entities", http.MethodPost, "/v1/entities/link", map[string]any{"entities": entities}, http.StatusOK},
		{"Merge entities", http.MethodPost, "/v1/entities/merge", map[string]any{"entities": entities[:2]}, http.StatusOK},
		{"Merge nothing", http.MethodPost, "/v1/entities/merge", map[string]any{"entities": []any{}}, http.StatusBadRequest},
		{"Duplicate relations", http.MethodPost, "/v1/relations/duplicates", map[string]any{"relations": relations}, http.StatusOK},
		{"Deduplicate relations", http.MethodPost, "/v1/relations/deduplicate", map[string]any{"relations": relations, "merge_properties": true}, http.StatusOK},
		{"Fusion dry run", http.MethodPost, "/v1/fusion/run", map[string]any{"dry_run": true}, http.StatusOK},
		{"Provenance", http.MethodGet, "/v1/entities/apple-1-" + suffix + "/provenance", nil, http.StatusOK},
		{"Similarity stats", http.MethodGet, "/v1/similarity/stats", nil, http.StatusOK},
		{"Reset stats", http.MethodDelete, "/v1/similarity/stats", nil, http.StatusNoContent},
	}

	for i, s := range steps {
		fmt.Printf("%d. %s...\n", i+1, s.name)
		if !sendRequest(s.method, s.endpoint, s.payload, s.status) {
			fmt.Printf("FAILED: %s\n", s.name)
			os.Exit(1)
		}
		fmt.Printf("PASSED: %s\n", s.name)
	}
}

func sendRequest(method, endpoint string, payload any, want int) bool {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL()+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d (want %d): %s\n", resp.StatusCode, want, string(respBody))
		return false
	}
	fmt.Printf("Response: %s\n", string(respBody))

	return true
}
