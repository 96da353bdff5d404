package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatrelay/internal/chat"
)

func dialChat(token string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	Expect(err).NotTo(HaveOccurred())
	return conn
}

func readServerEvent(conn *websocket.Conn) chat.ServerEvent {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev chat.ServerEvent
	Expect(conn.ReadJSON(&ev)).To(Succeed())
	return ev
}

var _ = Describe("Chat relay", func() {
	var (
		room       string
		aliceToken string
		bobToken   string
	)

	BeforeEach(func() {
		suffix := time.Now().UnixNano()
		room = fmt.Sprintf("e2e-room-%d", suffix)

		var err error
		aliceToken, err = registerAndLogin(baseURL, fmt.Sprintf("e2e-alice-%d", suffix), "e2e-password")
		Expect(err).NotTo(HaveOccurred())
		bobToken, err = registerAndLogin(baseURL, fmt.Sprintf("e2e-bob-%d", suffix), "e2e-password")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a forged token at the gateway", func() {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=forged", nil)
		Expect(err).To(HaveOccurred())
		Expect(resp).NotTo(BeNil())
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("relays messages between room members", func() {
		alice := dialChat(aliceToken)
		defer alice.Close()
		bob := dialChat(bobToken)
		defer bob.Close()

		for _, conn := range []*websocket.Conn{alice, bob} {
			Expect(conn.WriteJSON(chat.ClientEvent{Type: chat.EventJoin, Room: room})).To(Succeed())
			Expect(readServerEvent(conn).Type).To(Equal(chat.EventJoined))
		}

		Expect(alice.WriteJSON(chat.ClientEvent{
			Type: chat.EventSendMessage, Room: room, Text: "hello from e2e",
		})).To(Succeed())

		for _, conn := range []*websocket.Conn{alice, bob} {
			ev := readServerEvent(conn)
			Expect(ev.Type).To(Equal(chat.EventNewMessage))
			Expect(ev.Text).To(Equal("hello from e2e"))
			Expect(ev.Room).To(Equal(room))
		}
	})

	It("serves sent messages from the history endpoint", func() {
		alice := dialChat(aliceToken)
		defer alice.Close()

		Expect(alice.WriteJSON(chat.ClientEvent{Type: chat.EventJoin, Room: room})).To(Succeed())
		Expect(readServerEvent(alice).Type).To(Equal(chat.EventJoined))

		Expect(alice.WriteJSON(chat.ClientEvent{
			Type: chat.EventSendMessage, Room: room, Text: "persist me",
		})).To(Succeed())
		Expect(readServerEvent(alice).Type).To(Equal(chat.EventNewMessage))

		Eventually(func() []chat.Message {
			resp, err := http.Get(baseURL + "/history/" + room)
			if err != nil {
				return nil
			}
			defer resp.Body.Close()
			var msgs []chat.Message
			json.NewDecoder(resp.Body).Decode(&msgs)
			return msgs
		}).WithTimeout(5 * time.Second).WithPolling(200 * time.Millisecond).
			Should(HaveLen(1))
	})
})
