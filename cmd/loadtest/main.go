package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"go-chat/internal/chat"
	"go-chat/internal/user"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL     string
	pairs       int
	msgCount    int
	concurrency int
	pageSize    int
)

// stats are updated from every pair goroutine.
type stats struct {
	sent, reactions, read, failures atomic.Int64
}

type client struct {
	http  *http.Client
	base  string
	token string
}

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive direct conversations against a running chat server",
	Long: `Registers pairs of users, opens a direct conversation per pair and has both
sides send messages and toggle reactions. Each history is then read back page by page
to check that no message was lost.`,
	RunE: runLoadTest,
}

func init() {
	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.Flags().IntVar(&pairs, "pairs", 50, "number of direct conversations to drive")
	rootCmd.Flags().IntVar(&msgCount, "messages", 20, "messages per user")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 32, "pairs running at once")
	rootCmd.Flags().IntVar(&pageSize, "take", 10, "page size when reading history back")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger.Info("🔥 starting load test",
		zap.Int("users", pairs*2),
		zap.Int("messages_per_user", msgCount))

	var st stats
	started := time.Now()
	run := started.UnixNano()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < pairs; i++ {
		g.Go(func() error {
			if err := runPair(ctx, run, i, &st); err != nil {
				st.failures.Add(1)
				logger.Warn("❌ pair failed", zap.Int("pair", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	printSummary(time.Since(started), &st)
	if st.failures.Load() > 0 {
		return fmt.Errorf("%d of %d pairs failed", st.failures.Load(), pairs)
	}
	return nil
}

func printSummary(elapsed time.Duration, st *stats) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	sent := st.sent.Load()
	table.Append([]string{"elapsed", elapsed.Round(time.Millisecond).String()})
	table.Append([]string{"messages sent", strconv.FormatInt(sent, 10)})
	table.Append([]string{"messages/sec", fmt.Sprintf("%.1f", float64(sent)/elapsed.Seconds())})
	table.Append([]string{"reactions toggled", strconv.FormatInt(st.reactions.Load(), 10)})
	table.Append([]string{"messages read back", strconv.FormatInt(st.read.Load(), 10)})
	table.Append([]string{"failed pairs", strconv.FormatInt(st.failures.Load(), 10)})
	table.Render()
}

func runPair(ctx context.Context, run int64, pairID int, st *stats) error {
	pass := "password123"
	a, idA, err := authenticate(ctx, fmt.Sprintf("lt%d_%d_a", run%1e6, pairID), pass)
	if err != nil {
		return err
	}
	b, idB, err := authenticate(ctx, fmt.Sprintf("lt%d_%d_b", run%1e6, pairID), pass)
	if err != nil {
		return err
	}

	var conv chat.ConversationView
	if err := a.do(ctx, http.MethodPost, "/api/conversations",
		chat.CreateConversationRequest{Participants: []string{idB}}, &conv); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []struct {
		c  *client
		id string
	}{{a, idA}, {b, idB}} {
		g.Go(func() error { return chatter(gctx, side.c, side.id, conv.ID, st) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return readBack(ctx, a, conv.ID, st)
}

// chatter sends messages and reacts to every other one it sent.
func chatter(ctx context.Context, c *client, userID, conversationID string, st *stats) error {
	for i := 0; i < msgCount; i++ {
		var msg chat.MessageView
		err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages",
			chat.SendMessageRequest{Content: fmt.Sprintf("load test msg %d from %s", i, userID)}, &msg)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		st.sent.Add(1)

		if i%2 == 0 {
			var res chat.ToggleReactionResult
			if err := c.do(ctx, http.MethodPost, "/api/messages/"+msg.ID+"/reactions",
				chat.ToggleReactionRequest{Emoji: "👍"}, &res); err != nil {
				return fmt.Errorf("react: %w", err)
			}
			st.reactions.Add(1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// readBack walks the whole history by cursor and checks nothing went missing.
func readBack(ctx context.Context, c *client, conversationID string, st *stats) error {
	seen := 0
	cursor := ""
	for {
		q := url.Values{"take": {fmt.Sprint(pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page chat.Page[chat.MessageView]
		if err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages?"+q.Encode(), nil, &page); err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		seen += len(page.Items)
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}
	st.read.Add(int64(seen))

	if want := 2 * msgCount; seen != want {
		return fmt.Errorf("read back %d messages, expected %d", seen, want)
	}
	return nil
}

// authenticate registers (a clash from an earlier run is fine) and logs in.
func authenticate(ctx context.Context, username, password string) (*client, string, error) {
	anon := &client{http: &http.Client{Timeout: 10 * time.Second}, base: baseURL}

	_ = anon.do(ctx, http.MethodPost, "/register", user.RegisterRequest{Username: username, Password: password}, nil)

	var login user.LoginResponse
	if err := anon.do(ctx, http.MethodPost, "/login", user.LoginRequest{Username: username, Password: password}, &login); err != nil {
		return nil, "", fmt.Errorf("login %s: %w", username, err)
	}
	anon.token = login.AccessToken
	return anon, login.ID, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
