// lawagentctl is the operator companion to lawagentd: compute evidence
// fingerprints offline, verify stored signatures, push payloads into a
// running pipeline, and query anchor status. Output is one JSON summary
// line per invocation so it scripts cleanly.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BrKDDD/LawAgent2/internal/normalize"
	"github.com/BrKDDD/LawAgent2/internal/signer"
	"github.com/BrKDDD/LawAgent2/pkg/canonhash"
)

const usage = `usage:
  lawagentctl fingerprint --payload <path> [--platform <id>]
  lawagentctl verify --fingerprint <fp> --signature <hex> --signer <address>
  lawagentctl send --server <url> --platform <id> --payload <path> [--secret <s>]
  lawagentctl status --server <url> --fingerprint <fp>`

func main() {
	if len(os.Args) < 2 {
		fail("", usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "fingerprint":
		runFingerprint(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	default:
		fail("", usage)
		os.Exit(2)
	}
}

func runFingerprint(args []string) {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	payloadPath := fs.String("payload", "", "path to raw platform payload json")
	platform := fs.String("platform", "generic", "platform id (dingtalk, wechat_work, generic)")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*payloadPath) == "" {
		fail("", "--payload is required")
		os.Exit(2)
	}
	payload, err := os.ReadFile(*payloadPath)
	if err != nil {
		fail("", "read payload failed: "+err.Error())
		os.Exit(1)
	}
	msg, err := normalize.Normalize(*platform, payload)
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	fp, _, err := canonhash.Fingerprint(msg)
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	pass(map[string]any{"fingerprint": fp, "platform": msg.Platform, "sender_id": msg.SenderID})
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fp := fs.String("fingerprint", "", "evidence fingerprint (sha256:<hex>)")
	sig := fs.String("signature", "", "hex signature from the anchor record")
	signerID := fs.String("signer", "", "claimed signer address")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if *fp == "" || *sig == "" || *signerID == "" {
		fail(*fp, "--fingerprint, --signature and --signer are required")
		os.Exit(2)
	}
	if err := signer.Verify(*fp, *sig, *signerID); err != nil {
		fail(*fp, err.Error())
		os.Exit(1)
	}
	pass(map[string]any{"fingerprint": *fp, "signer": *signerID})
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	server := fs.String("server", "http://localhost:8090", "lawagentd base url")
	platform := fs.String("platform", "", "platform id")
	payloadPath := fs.String("payload", "", "path to raw platform payload json")
	secret := fs.String("secret", os.Getenv("WEBHOOK_SECRET"), "webhook secret for the body signature")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if *platform == "" || strings.TrimSpace(*payloadPath) == "" {
		fail("", "--platform and --payload are required")
		os.Exit(2)
	}
	payload, err := os.ReadFile(*payloadPath)
	if err != nil {
		fail("", "read payload failed: "+err.Error())
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost,
		strings.TrimRight(*server, "/")+"/ingest/"+*platform, bytes.NewReader(payload))
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	req.Header.Set("content-type", "application/json")
	if *secret != "" {
		mac := hmac.New(sha256.New, []byte(*secret))
		mac.Write(payload)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		fail("", err.Error())
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		fail("", fmt.Sprintf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		os.Exit(1)
	}
	pass(map[string]any{"platform": *platform, "status_code": resp.StatusCode})
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	server := fs.String("server", "http://localhost:8090", "lawagentd base url")
	fp := fs.String("fingerprint", "", "evidence fingerprint (sha256:<hex>)")
	if err := fs.Parse(args); err != nil {
		fail("", err.Error())
		os.Exit(2)
	}
	if *fp == "" {
		fail("", "--fingerprint is required")
		os.Exit(2)
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Get(
		strings.TrimRight(*server, "/") + "/anchors/" + *fp)
	if err != nil {
		fail(*fp, err.Error())
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail(*fp, fmt.Sprintf("server returned %d", resp.StatusCode))
		os.Exit(1)
	}
	var rec map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		fail(*fp, "decode response failed: "+err.Error())
		os.Exit(1)
	}
	pass(rec)
}

func pass(fields map[string]any) {
	out := map[string]any{"status": "PASS", "timestamp_utc": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range fields {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

func fail(fingerprint, reason string) {
	out := map[string]any{
		"status":        "FAIL",
		"reason":        reason,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if fingerprint != "" {
		out["fingerprint"] = fingerprint
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}
