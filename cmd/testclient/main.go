// Command testclient drives one call through the session API: it checks
// gRPC health, starts a call, ends it after a while, and prints the analysis.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "ai-voice-session-service/internal/api/grpc"
	"ai-voice-session-service/internal/models"
	"ai-voice-session-service/internal/observability/logging"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "session API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "session gRPC address")
	talk := flag.Duration("talk", 5*time.Second, "how long to keep the call open (0 waits for the remote end)")
	wait := flag.Duration("wait", 3*time.Minute, "how long to wait for the analysis")
	name := flag.String("name", "Test Caller", "contact name")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	if err := checkHealth(*grpcAddr); err != nil {
		log.Fatal().Err(err).Msg("Health check failed")
	}

	c := &client{base: *apiURL, http: &http.Client{Timeout: *wait + 10*time.Second}}

	callID, err := c.startCall(&models.ContactInfo{Name: *name})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start call")
	}
	log.Info().Str("callId", callID).Msg("Call started")

	if *talk > 0 {
		time.Sleep(*talk)
		if err := c.endCall(); err != nil {
			log.Fatal().Err(err).Msg("Failed to end call")
		}
		log.Info().Msg("Call ended")
	}

	var snap map[string]any
	if err := c.get("/v1/session", &snap); err != nil {
		log.Fatal().Err(err).Msg("Failed to read session")
	}
	log.Info().Interface("phase", snap["phase"]).Interface("conversation", snap["conversation"]).Msg("Session")

	var result map[string]any
	if err := c.get("/v1/session/analysis?wait="+wait.String(), &result); err != nil {
		log.Fatal().Err(err).Msg("Failed to read analysis")
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func checkHealth(addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("service is %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) startCall(contact *models.ContactInfo) (string, error) {
	body, err := json.Marshal(map[string]any{"contact": contact})
	if err != nil {
		return "", err
	}
	resp, err := c.http.Post(c.base+"/v1/calls", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", statusErr(resp)
	}
	var out struct {
		CallID string `json:"callId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.CallID, nil
}

func (c *client) endCall() error {
	req, err := http.NewRequest(http.MethodDelete, c.base+"/v1/calls/current", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusErr(resp)
	}
	return nil
}

func (c *client) get(path string, v any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusErr(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func statusErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
