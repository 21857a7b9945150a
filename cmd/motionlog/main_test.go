package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/motiongen/internal/db"
	"github.com/banshee-data/motiongen/internal/dispatch"
	"github.com/banshee-data/motiongen/internal/publish"
)

func command(tick uint64, phase string, z float64) *dispatch.Command {
	return &dispatch.Command{
		Tick:        tick,
		Elapsed:     float64(tick) * 0.01,
		Phase:       phase,
		ContactFeet: []string{"LF", "RF", "LH", "RH"},
		BasePos:     [3]float64{0, 0, z},
		BaseQuat:    [4]float64{0, 0, 0, 1},
		FeetAcc:     []float64{},
		FeetVel:     []float64{},
		FeetPos:     []float64{},
	}
}

// seedRunLog writes one finished run with three INIT commands and one
// STEADY command.
func seedRunLog(t *testing.T) (string, *db.Run) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motiongen.db")
	runLog, err := db.NewDB(path)
	require.NoError(t, err)
	defer runLog.Close()

	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := db.NewRun(started, "{}", "test")
	require.NoError(t, runLog.CreateRun(ctx, run))
	require.NoError(t, runLog.InsertCommands(ctx, run.ID, []*dispatch.Command{
		command(1, "INIT", 0.60),
		command(2, "INIT", 0.58),
		command(3, "INIT", 0.55),
		command(4, "STEADY", 0.50),
	}))
	initial := [3]float64{0.1, -0.2, 0.6}
	require.NoError(t, runLog.FinishRun(ctx, run.ID, started.Add(1500*time.Millisecond), 4, &initial, "cancelled"))
	return path, run
}

func TestDispatchCommand_Unknown(t *testing.T) {
	var out bytes.Buffer
	err := dispatchCommand(context.Background(), &out, "frobnicate", nil)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Usage: motionlog")
}

func TestDispatchCommand_HelpAndVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, dispatchCommand(context.Background(), &out, "help", nil))
	assert.Contains(t, out.String(), "export")

	out.Reset()
	require.NoError(t, dispatchCommand(context.Background(), &out, "version", nil))
	assert.True(t, strings.HasPrefix(out.String(), "motionlog "))
}

func TestRuns_Table(t *testing.T) {
	path, run := seedRunLog(t)
	var out bytes.Buffer
	require.NoError(t, dispatchCommand(context.Background(), &out, "runs", []string{"-db", path}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "RUN"))
	assert.Contains(t, lines[1], run.ID)
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[1], "0.100,-0.200,0.600")
	assert.Contains(t, lines[1], "cancelled")
}

func TestRuns_JSON(t *testing.T) {
	path, run := seedRunLog(t)
	var out bytes.Buffer
	require.NoError(t, dispatchCommand(context.Background(), &out, "runs", []string{"-db", path, "-json"}))

	var runs []db.Run
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, uint64(4), runs[0].Ticks)
}

func TestExport(t *testing.T) {
	path, run := seedRunLog(t)
	png := filepath.Join(t.TempDir(), "init.png")

	var out bytes.Buffer
	err := dispatchCommand(context.Background(), &out, "export", []string{"-db", path, "-run", run.ID, "-out", png})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "wrote 3 points")

	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestExport_Errors(t *testing.T) {
	path, _ := seedRunLog(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown run", []string{"-db", path, "-run", "nope", "-out", filepath.Join(t.TempDir(), "x.png")}, "not found"},
		{"empty phase", []string{"-db", path, "-phase", "HOLD", "-out", filepath.Join(t.TempDir(), "x.png")}, "no recorded HOLD"},
		{"outside allowed dirs", []string{"-db", path, "-out", "/etc/motiongen.png"}, "allowed directories"},
		{"not png", []string{"-db", path, "-out", filepath.Join(t.TempDir(), "x.svg")}, ".png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dispatchCommand(context.Background(), &bytes.Buffer{}, "export", tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMigrate_Status(t *testing.T) {
	path, _ := seedRunLog(t)
	var out bytes.Buffer
	require.NoError(t, dispatchCommand(context.Background(), &out, "migrate", []string{"-db", path, "status"}))
	assert.Contains(t, out.String(), "current version: 2")
}

func startPublisher(t *testing.T) (*publish.Publisher, *publish.CommandStreamClient) {
	t.Helper()
	p := publish.NewPublisher(publish.Config{Logger: zerolog.Nop()})
	lis := bufconn.Listen(1 << 20)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return p, publish.NewCommandStreamClient(conn)
}

func TestFollow(t *testing.T) {
	p, client := startPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		if p.WaitForClients(ctx, 1) != nil {
			return
		}
		p.Publish(command(1, "INIT", 0.6))
		p.Publish(command(2, "STEADY", 0.5))
		p.Publish(command(3, "STEADY", 0.5))
		p.Publish(command(4, "STEADY", 0.5))
	}()

	var out bytes.Buffer
	require.NoError(t, follow(ctx, &out, client, []string{"STEADY"}, 1, 2))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first dispatch.Command
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, uint64(2), first.Tick)
	assert.Equal(t, "STEADY", first.Phase)
}

func TestStatus(t *testing.T) {
	p, client := startPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Publish(command(1, "INIT", 0.6))

	var out bytes.Buffer
	require.NoError(t, status(ctx, &out, client))
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 1.0, got["published"])
	assert.Equal(t, true, got["running"])
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"INIT", "STEADY"}, splitList(" INIT, ,STEADY "))
}
