// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/kraklabs/spfgate/internal/config"
	"github.com/kraklabs/spfgate/internal/paths"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestServeLoopLifecycle drives initialize/notifications/ping/tools-list
// through a real *os.File pipe, matching serveLoop's own signature, and
// confirms the scanner goroutine exits with the loop once stdin closes
// (no leaked goroutine left behind for goleak to catch in TestMain).
func TestServeLoopLifecycle(t *testing.T) {
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	t.Setenv("SPF_ROOT", t.TempDir())
	root, err := paths.Resolve()
	require.NoError(t, err)
	require.NoError(t, root.EnsureDirs())

	env := &Environment{Root: root, Config: config.Defaults(root)}
	s := &mcpServer{env: env, logger: zap.NewNop().Sugar(), limiters: nil}

	done := make(chan error, 1)
	go func() {
		done <- s.serveLoop(inR, outW)
	}()

	reader := bufio.NewReader(outR)
	send := func(line string) {
		_, werr := inW.WriteString(line + "\n")
		require.NoError(t, werr)
	}
	readResponse := func() jsonRPCResponse {
		raw, rerr := reader.ReadString('\n')
		require.NoError(t, rerr)
		var resp jsonRPCResponse
		require.NoError(t, json.Unmarshal([]byte(raw), &resp))
		return resp
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	initResp := readResponse()
	require.Nil(t, initResp.Error)

	send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	send(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	pingResp := readResponse()
	require.Nil(t, pingResp.Error)

	send(`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	listResp := readResponse()
	require.Nil(t, listResp.Error)

	require.NoError(t, inW.Close())
	select {
	case loopErr := <-done:
		require.NoError(t, loopErr)
	case <-time.After(5 * time.Second):
		t.Fatal("serveLoop did not return after stdin closed")
	}
	_ = outW.Close()
	_ = outR.Close()
}
