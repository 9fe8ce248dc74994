package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var version = "dev"

// loadEnvFile sources ~/.edgegate/env. godotenv never overrides variables
// already present in the process environment.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	_ = godotenv.Load(home + "/.edgegate/env")
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("edgegatectl %s\n", version)
	case "status":
		doStatus()
	case "route":
		doRoute(args)
	case "redact":
		doRedact(args)
	case "cost":
		doCost(args)
	case "record":
		doRecord(args)
	case "ledger":
		doLedger()
	case "reset":
		doReset()
	case "health":
		doHealth()
	case "vault":
		doVault(args)
	case "events":
		doEvents(args)
	case "admin-token":
		doAdminToken()
	case "rotate-admin-token":
		doRotateAdminToken()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `edgegatectl: CLI for the EdgeGate routing and cost API

Usage: edgegatectl <command> [arguments]

Environment:
  EDGEGATE_URL          Base URL (default: http://localhost:8080)
  EDGEGATE_ADMIN_TOKEN  Bearer token for admin endpoints
  EDGEGATE_ORG          Organization sent as X-Organization-ID

  ~/.edgegate/env       Auto-sourced on startup.
                        Explicit environment variables take precedence.

Commands:
  status                          Show server status and vault state
  route <json>                    Ask for a routing decision
  redact <text>                   Redact PII from text
  cost <org> [budget-eur]         Show an organization's spend
  record <org> <eur> [provider]   Record the actual cost of a call
  ledger                          Show every organization's spend
  reset                           Reset all totals (new billing period)
  health                          Show edge health probe stats

  vault                           Show vault state
  vault unlock <password>         Unlock the vault
  vault lock                      Lock the vault
  vault set <provider> <api-key>  Store a cloud API key
  vault delete <provider>         Remove a cloud API key

  events [types]                  Stream governance events (comma-separated filter)
  admin-token                     Print the admin token (env or file)
  rotate-admin-token              Rotate the admin token
  version                         Print version
`)
}

func baseURL() string {
	if u := os.Getenv("EDGEGATE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func adminToken() string {
	return os.Getenv("EDGEGATE_ADMIN_TOKEN")
}

func doRequest(method, path string, body io.Reader, headers ...string) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if org := os.Getenv("EDGEGATE_ORG"); org != "" {
		req.Header.Set("X-Organization-ID", org)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string, headers ...string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON), headers...)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPut(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PUT", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest("DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: edgegatectl %s\n", usage)
		os.Exit(1)
	}
}

// --- Commands ---

func doStatus() {
	resp, err := doRequest("GET", "/healthz", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	h := readJSON(resp)

	vaultState := "disabled"
	switch h["vault_locked"] {
	case true:
		vaultState = "locked"
	case false:
		vaultState = "unlocked"
	}
	status, _ := h["status"].(string)
	edge, _ := h["edge"].(string)

	fmt.Printf("Server:  %s\n", baseURL())
	fmt.Printf("Status:  %s\n", status)
	fmt.Printf("Edge:    %s\n", edge)
	fmt.Printf("Cloud:   %s providers\n", fmtNum(h["cloud"]))
	if rules, ok := h["rules"].([]any); ok {
		names := make([]string, 0, len(rules))
		for _, r := range rules {
			names = append(names, fmt.Sprint(r))
		}
		fmt.Printf("Rules:   %s\n", strings.Join(names, " > "))
	}
	fmt.Printf("Vault:   %s\n", vaultState)
}

func doRoute(args []string) {
	requireArgs(args, 1, "route <json>")
	result := doPost("/v1/route", args[0])
	dec, _ := result["decision"].(map[string]any)
	if dec == nil {
		fmt.Println(prettyJSON(result))
		return
	}
	fmt.Printf("Provider:   %v (%v)\n", dec["provider"], dec["vendor"])
	fmt.Printf("Endpoint:   %v\n", dec["endpoint"])
	fmt.Printf("Rule:       %v\n", dec["rule"])
	fmt.Printf("Estimate:   %s\n", fmtCost(dec["estimated_cost_eur"]))
	fmt.Printf("Redact:     %v\n", dec["should_redact"])
	fmt.Printf("Retries:    %s\n", fmtNum(dec["max_retries"]))
	fmt.Printf("Timeout:    %s\n", fmtDuration(dec["timeout_ms"]))
	if dec["degraded"] == true {
		fmt.Println("Degraded:   edge unreachable, cloud fallback")
	}
	if red, ok := result["redaction"].(map[string]any); ok {
		fmt.Println()
		fmt.Println("Redacted content:")
		fmt.Println(red["redacted"])
	}
}

func doRedact(args []string) {
	requireArgs(args, 1, "redact <text>")
	text := strings.Join(args, " ")
	if text == "-" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		fatal(err)
		text = string(data)
	}
	body := fmt.Sprintf(`{"content":%s}`, jsonStr(text))
	result := doPost("/v1/redact", body)
	fmt.Println(result["redacted"])
	if tm, ok := result["token_map"].(map[string]any); ok {
		tokens, _ := tm["tokens"].(map[string]any)
		if len(tokens) == 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "\n%d placeholder(s), request %v\n", len(tokens), result["request_id"])
	}
}

func doCost(args []string) {
	requireArgs(args, 1, "cost <org> [budget-eur]")
	path := "/v1/costs/" + url.PathEscape(args[0])
	if len(args) > 1 {
		if _, err := strconv.ParseFloat(args[1], 64); err != nil {
			fatal(fmt.Errorf("budget must be a number: %s", args[1]))
		}
		path += "?budget_eur=" + url.QueryEscape(args[1])
	}
	data := doGet(path)
	fmt.Printf("Organization: %v\n", data["org_id"])
	fmt.Printf("Spend:        %s\n", fmtCost(data["total_eur"]))
	if b, ok := data["budget_eur"]; ok {
		fmt.Printf("Budget:       %s\n", fmtCost(b))
		fmt.Printf("Utilization:  %s%%\n", fmtNum(data["utilization_pct"]))
		if data["within_budget"] == true {
			fmt.Println("Within budget.")
		} else {
			fmt.Println("Budget exhausted.")
		}
	}
}

func doRecord(args []string) {
	requireArgs(args, 2, "record <org> <eur> [provider]")
	eur, err := strconv.ParseFloat(args[1], 64)
	fatal(err)
	body := map[string]any{"org_id": args[0], "cost_eur": eur}
	if len(args) > 2 {
		body["provider"] = args[2]
	}
	b, _ := json.Marshal(body)
	key := os.Getenv("EDGEGATE_IDEMPOTENCY_KEY")
	if key == "" {
		key = uuid.NewString()
	}
	result := doPost("/v1/costs", string(b), "Idempotency-Key", key)
	fmt.Printf("Recorded %s for %v. Total: %s\n", fmtCost(eur), result["org_id"], fmtCost(result["total_eur"]))
}

func doLedger() {
	data := doGet("/admin/v1/ledger")
	totals, _ := data["totals"].(map[string]any)
	if len(totals) == 0 {
		fmt.Println("No spend recorded.")
		return
	}
	orgs := make([]string, 0, len(totals))
	for org := range totals {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORGANIZATION\tSPEND")
	for _, org := range orgs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", org, fmtCost(totals[org]))
	}
	_ = tw.Flush()
}

func doReset() {
	result := doPost("/admin/v1/ledger/reset", "{}")
	if result["ok"] == true {
		fmt.Println("Ledger reset. Emergency stops lifted.")
	}
}

func doHealth() {
	data := doGet("/admin/v1/health")
	if edge, ok := data["edge"].(map[string]any); ok {
		fmt.Printf("Edge: %v (probe %v)\n\n", edge["base_url"], edge["health_url"])
	}
	targets, _ := data["targets"].([]any)
	if len(targets) == 0 {
		fmt.Println("No probes recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TARGET\tSTATE\tPROBES\tFAILURES\tCONSEC\tAVG LATENCY\tLAST SUCCESS\tLAST ERROR")
	for _, t := range targets {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		target, _ := m["target"].(string)
		state, _ := m["state"].(string)
		lastErr, _ := m["last_error"].(string)
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			target, state,
			fmtNum(m["total_probes"]), fmtNum(m["total_failures"]), fmtNum(m["consec_failures"]),
			fmtDuration(m["avg_latency_ms"]), fmtTime(m["last_success_at"]), lastErr)
	}
	_ = tw.Flush()
}

func doVault(args []string) {
	if len(args) == 0 {
		data := doGet("/admin/v1/vault")
		if data["locked"] == true {
			fmt.Println("Vault locked.")
			return
		}
		fmt.Println("Vault unlocked.")
		providers, _ := data["providers"].([]any)
		for _, p := range providers {
			fmt.Printf("  %v\n", p)
		}
		return
	}
	switch args[0] {
	case "unlock":
		requireArgs(args, 2, "vault unlock <password>")
		result := doPost("/admin/v1/vault/unlock", fmt.Sprintf(`{"password":%s}`, jsonStr(args[1])))
		if result["ok"] == true {
			fmt.Println("Vault unlocked.")
		}
	case "lock":
		result := doPost("/admin/v1/vault/lock", "{}")
		if result["already_locked"] == true {
			fmt.Println("Vault was already locked.")
		} else if result["ok"] == true {
			fmt.Println("Vault locked.")
		}
	case "set":
		requireArgs(args, 3, "vault set <provider> <api-key>")
		result := doPut("/admin/v1/vault/credentials/"+url.PathEscape(args[1]), fmt.Sprintf(`{"api_key":%s}`, jsonStr(args[2])))
		if result["ok"] == true {
			fmt.Printf("Credential stored for %s.\n", args[1])
		}
	case "delete":
		requireArgs(args, 2, "vault delete <provider>")
		result := doDelete("/admin/v1/vault/credentials/" + url.PathEscape(args[1]))
		if result["ok"] == true {
			fmt.Printf("Credential removed for %s.\n", args[1])
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown vault command: %s\n", args[0])
		os.Exit(1)
	}
}

func doEvents(args []string) {
	path := "/admin/v1/events"
	if len(args) > 0 {
		path += "?types=" + url.QueryEscape(args[0])
	}
	// The stream is open-ended; drop the default client timeout.
	http.DefaultClient.Timeout = 0
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		readJSON(resp)
	}

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		if line := formatEvent(strings.TrimSpace(payload)); line != "" {
			fmt.Println(line)
		}
	}
	if err := sc.Err(); err != nil {
		fatal(err)
	}
	fmt.Println("Event stream closed.")
}

// formatEvent renders one SSE data payload as a single line. Payloads that
// are not governance events (such as the connect banner) yield "".
func formatEvent(payload string) string {
	var evt map[string]any
	if json.Unmarshal([]byte(payload), &evt) != nil {
		return ""
	}
	typ, _ := evt["type"].(string)
	if typ == "" {
		return ""
	}
	ts := time.Now().Format("15:04:05")
	if s, ok := evt["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = t.Local().Format("15:04:05")
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ts, typ)
	for _, k := range []string{"org_id", "provider", "rule", "old_state", "new_state"} {
		if v, ok := evt[k].(string); ok && v != "" {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
	}
	for _, k := range []string{"estimated_cost_eur", "current_cost_eur", "budget_cap_eur"} {
		if v, ok := evt[k]; ok {
			fmt.Fprintf(&b, " %s=%s", strings.TrimSuffix(k, "_eur"), fmtCost(v))
		}
	}
	if reason, ok := evt["reason"].(string); ok && reason != "" {
		fmt.Fprintf(&b, " reason=%q", reason)
	}
	return b.String()
}

func doAdminToken() {
	if tok := os.Getenv("EDGEGATE_ADMIN_TOKEN"); tok != "" {
		fmt.Println(tok)
		return
	}
	home, _ := os.UserHomeDir()
	if home != "" {
		if data, err := os.ReadFile(home + "/.edgegate/.admin-token"); err == nil {
			if tok := strings.TrimSpace(string(data)); tok != "" {
				fmt.Println(tok)
				return
			}
		}
	}
	if data, err := os.ReadFile("/data/.admin-token"); err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			fmt.Println(tok)
			return
		}
	}
	fmt.Fprintln(os.Stderr, "admin token not found; set EDGEGATE_ADMIN_TOKEN or check the server log")
	os.Exit(1)
}

func doRotateAdminToken() {
	result := doPost("/admin/v1/admin-token/rotate", "{}")
	token, _ := result["admin_token"].(string)
	if token == "" {
		fmt.Fprintln(os.Stderr, "rotation failed:", result)
		os.Exit(1)
	}
	fmt.Println("Admin token rotated.")
	fmt.Println("New token:", token)
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtCost(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f == 0 {
			return "€0"
		}
		return fmt.Sprintf("€%.4f", f)
	}
	return fmt.Sprintf("%v", v)
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return s
		}
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%v", v)
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
