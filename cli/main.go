// Package main provides a small interactive client for the MCP WebSocket server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// Client represents a WebSocket client.
type Client struct {
	conn *websocket.Conn
	done chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) send(kind protocol.Kind, payload any, mc *protocol.ModelContext) error {
	msg, err := protocol.NewMessage(kind, payload, mc)
	if err != nil {
		return err
	}
	data, err := protocol.Serialize(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Init creates the server-side context for modelID and waits for the reply.
func (c *Client) Init(modelID string) (*protocol.ModelContext, error) {
	mc := protocol.NewDefaultContext()
	mc.ModelID = modelID
	if err := c.send(protocol.KindInit, map[string]any{}, mc); err != nil {
		return nil, fmt.Errorf("write init: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read init reply: %w", err)
	}
	reply, err := protocol.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse init reply: %w", err)
	}
	if reply.Type == protocol.KindError {
		ep, _ := reply.ErrorPayload()
		if ep != nil {
			return nil, fmt.Errorf("init failed: %s - %s", ep.Code, ep.Message)
		}
		return nil, fmt.Errorf("init failed")
	}
	if reply.Type != protocol.KindInit {
		return nil, fmt.Errorf("expected init reply, got: %s", reply.Type)
	}
	return reply.Context, nil
}

// Query sends prompt as a query.
func (c *Client) Query(prompt string) error {
	return c.send(protocol.KindQuery, protocol.QueryPayload{Prompt: prompt}, nil)
}

// UpdateModel replaces the server-side context with a fresh one for modelID.
func (c *Client) UpdateModel(modelID string) error {
	mc := protocol.NewDefaultContext()
	mc.ModelID = modelID
	return c.send(protocol.KindContextUpdate, map[string]any{}, mc)
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			log.Printf("Unexpected frame: %v", err)
			continue
		}

		switch msg.Type {
		case protocol.KindResponse:
			if rp, err := msg.ResponsePayload(); err == nil {
				fmt.Printf("\n%s\n", rp.Text)
				if rp.Metadata != nil {
					fmt.Printf("  [model=%s tokens=%d time=%.0fms]\n",
						rp.Metadata.Model, rp.Metadata.Tokens, rp.Metadata.ProcessingTime)
				}
				continue
			}
		case protocol.KindError:
			if ep, err := msg.ErrorPayload(); err == nil {
				fmt.Printf("\nerror %s: %s\n", ep.Code, ep.Message)
				continue
			}
		}

		var pretty map[string]any
		json.Unmarshal(data, &pretty)
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("\n[%s] Received:\n%s\n", msg.Type, string(formatted))
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:3000/ws", "WebSocket server address")
	model := flag.String("model", protocol.DefaultModelID, "Model id for the initial context")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	mc, err := client.Init(*model)
	if err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	fmt.Printf("Context initialized for model %s\n", mc.ModelID)
	fmt.Println("\nType a prompt and press Enter to send.")
	fmt.Println("Commands: /update <model> to switch models, /quit to exit")
	fmt.Println()

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case <-client.done:
			fmt.Println("\nConnection closed")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}

			switch {
			case input == "/quit":
				fmt.Println("Bye!")
				return
			case strings.HasPrefix(input, "/update"):
				modelID := strings.TrimSpace(strings.TrimPrefix(input, "/update"))
				if modelID == "" {
					fmt.Println("usage: /update <model>")
					continue
				}
				err = client.UpdateModel(modelID)
			default:
				err = client.Query(input)
			}
			if err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
