package spjs

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseMessage(t *testing.T) {
	v, err := parseMessage([]byte(`{"P":"COM3","D":"ok\n"}`))
	require.NoError(t, err)
	assert.Equal(t, &DataFrame{Port: "COM3", Data: "ok\n"}, v)

	v, err = parseMessage([]byte(`{"SerialPorts":[{"Name":"COM3","IsOpen":true,"Baud":115200}]}`))
	require.NoError(t, err)
	require.IsType(t, &SerialPortList{}, v)
	assert.True(t, v.(*SerialPortList).SerialPorts[0].IsOpen)

	v, err = parseMessage([]byte(`{"Cmd":"Complete","Id":"x1","P":"COM3"}`))
	require.NoError(t, err)
	assert.Equal(t, &CmdStatus{Cmd: "Complete", ID: "x1", Port: "COM3"}, v)

	v, err = parseMessage([]byte(`{"Error":"port busy"}`))
	require.NoError(t, err)
	assert.Equal(t, &ErrorMessage{Error: "port busy"}, v)

	_, err = parseMessage([]byte(`{"Hostname":"bridge"}`))
	assert.Error(t, err)
}

// fakeServer accepts one websocket connection and answers like SPJS.
func fakeServer(t *testing.T, recv chan<- string) *httptest.Server {
	var upgrader websocket.Upgrader
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		opened := false
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg := string(data)
			recv <- msg

			switch {
			case msg == "list":
				ws.WriteJSON(SerialPortList{SerialPorts: []SerialPort{{Name: "ttyUSB0", IsOpen: opened}}})
			case strings.HasPrefix(msg, "open ") && !opened:
				opened = true
				ws.WriteJSON(DataFrame{Port: "ttyUSB0", Data: "Grbl 1.1h ['$' for help]\n"})
			case strings.HasPrefix(msg, "sendjson "):
				ws.WriteJSON(DataFrame{Port: "ttyUSB0", Data: "o"})
				ws.WriteJSON(DataFrame{Port: "ttyUSB0", Data: "k\n"})
			}
		}
	}))
}

func expectMessage(t *testing.T, recv <-chan string, prefix string) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-recv:
			if strings.HasPrefix(msg, prefix) {
				return msg
			}
		case <-timeout:
			t.Fatalf("never received %q", prefix)
		}
	}
}

func TestClient_Port(t *testing.T) {
	recv := make(chan string, 100)
	srv := fakeServer(t, recv)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), quiet)
	p, err := c.Open("ttyUSB0", 115200)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "open ttyUSB0 115200 default", expectMessage(t, recv, "open "))

	r := bufio.NewReader(p)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Grbl 1.1h ['$' for help]\n", line)

	_, err = p.Write([]byte("G0X1\n"))
	require.NoError(t, err)

	var sent JSON
	msg := expectMessage(t, recv, "sendjson ")
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(msg, "sendjson ")), &sent))
	assert.Equal(t, "ttyUSB0", sent.Port)
	require.Len(t, sent.Data, 1)
	assert.Equal(t, "G0X1\n", sent.Data[0].Data)
	assert.NotEmpty(t, sent.Data[0].ID)

	// frames split mid-line are joined
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\n", line)

	assert.Len(t, c.Ports(), 1)

	_, err = c.Open("ttyUSB0", 115200)
	assert.Error(t, err)
}

func TestClient_Closed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(ctx, "ws://127.0.0.1:1/ws", quiet)
	assert.ErrorIs(t, c.WriteString("list"), ErrClosed)
}
