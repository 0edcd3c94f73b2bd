package main

import (
	"bufio"
	"flag"
	"net/http"
	"net/url"
	"os"

	"github.com/fasthttp/websocket"
	"github.com/fatih/color"
)

func main() {
	server := flag.String("url", "ws://localhost:3000/api/research/ws", "research websocket endpoint")
	token := flag.String("token", os.Getenv("RESEARCH_TOKEN"), "JWT (defaults to $RESEARCH_TOKEN)")
	local := flag.Bool("local", false, "ask for local models (depth vocabulary)")
	flag.Parse()

	if *token == "" {
		color.Red("missing token: pass -token or set RESEARCH_TOKEN")
		os.Exit(1)
	}

	u, err := url.Parse(*server)
	if err != nil {
		color.Red("invalid url: %v", err)
		os.Exit(1)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			color.Red("handshake failed: %s", resp.Status)
		} else {
			color.Red("dial failed: %v", err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	color.Cyan("Connected to %s", u.Host)
	color.New(color.Faint).Println("Type a question, or /mode <name>, /stop, /reset, /resume <seq>, /quit")

	term := &terminal{out: color.Output}
	// only the main loop writes to conn
	resumes := make(chan []byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					color.Red("connection lost: %v", err)
				}
				return
			}
			resume, err := term.render(frame)
			if err != nil {
				color.Red("%v", err)
				continue
			}
			if resume != nil {
				select {
				case resumes <- resume:
				default:
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case resume := <-resumes:
			if err := conn.WriteMessage(websocket.TextMessage, resume); err != nil {
				color.Red("write failed: %v", err)
				return
			}
		case line, ok := <-lines:
			if !ok {
				line = "/quit"
			}
			frame, quit, err := parseLine(line, *local)
			if err != nil {
				color.Red("%v", err)
				continue
			}
			if quit {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if frame == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				color.Red("write failed: %v", err)
				return
			}
		}
	}
}
