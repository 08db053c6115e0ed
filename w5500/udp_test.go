package w5500

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zynaptic/w5500go/hal/simhal"
	"github.com/zynaptic/w5500go/netbuf"
)

var _ = Describe("UDP socket", func() {
	var (
		b    *testBench
		sock *Socket
	)

	remoteAddr := [4]byte{192, 168, 1, 30}
	socketID := 3

	BeforeEach(func() {
		b = newTestBench(4)
		b.bringUp()
		sock = b.driver.OpenUDP(7, nil, b.notify)
		Expect(sock).ToNot(BeNil())
		b.pump(100)
	})

	It("should open and notify the socket user", func() {
		Expect(b.countEvents(NotifyUDPSocketOpened)).To(Equal(1))
		Expect(b.model.SocketStatus(socketID)).To(Equal(uint8(0x22)))
	})

	It("should transmit a datagram to the requested destination", func() {
		Expect(sock.SendTo(bufferOf("ping"), remoteAddr, 4096)).
			To(Equal(StatusSuccess))
		b.pump(200)

		frames := b.model.SentFrames(socketID)
		Expect(frames).To(HaveLen(1))
		Expect(string(frames[0])).To(Equal("ping"))
		Expect(b.countEvents(NotifyUDPMessageSent)).To(Equal(1))
	})

	It("should transmit queued datagrams separately", func() {
		Expect(sock.SendTo(bufferOf("one"), remoteAddr, 4096)).
			To(Equal(StatusSuccess))
		Expect(sock.SendTo(bufferOf("two"), remoteAddr, 4097)).
			To(Equal(StatusSuccess))
		b.pump(400)

		frames := b.model.SentFrames(socketID)
		Expect(frames).To(HaveLen(2))
		Expect(string(frames[0])).To(Equal("one"))
		Expect(string(frames[1])).To(Equal("two"))
	})

	It("should report an ARP timeout to the socket user", func() {
		b.model.SetSendTimeout(socketID, true)
		Expect(sock.SendTo(bufferOf("lost"), remoteAddr, 4096)).
			To(Equal(StatusSuccess))
		b.pump(200)

		Expect(b.countEvents(NotifyUDPARPTimeout)).To(Equal(1))
		Expect(b.countEvents(NotifyUDPMessageSent)).To(BeZero())
	})

	It("should reject oversized datagrams", func() {
		big := &netbuf.Buffer{}
		big.Resize(5000)
		Expect(sock.SendTo(big, remoteAddr, 4096)).
			To(Equal(StatusOversized))
	})

	It("should restore a buffer rejected by a full transmit queue",
		func() {
			for i := 0; i < socketStreamSize; i++ {
				Expect(sock.SendTo(bufferOf("fill"), remoteAddr, 4096)).
					To(Equal(StatusSuccess))
			}
			extra := bufferOf("extra")
			Expect(sock.SendTo(extra, remoteAddr, 4096)).
				To(Equal(StatusRetry))
			Expect(extra.Len()).To(Equal(5))
		})

	It("should deliver a received datagram with its source", func() {
		b.model.InjectUDPDatagram(
			socketID, remoteAddr, 5000, []byte("hello"))
		b.pump(200)

		buffer, srcAddr, srcPort, status := sock.ReceiveFrom()
		Expect(status).To(Equal(StatusSuccess))
		Expect(string(buffer.Bytes())).To(Equal("hello"))
		Expect(srcAddr).To(Equal(remoteAddr))
		Expect(srcPort).To(Equal(uint16(5000)))

		_, _, _, status = sock.ReceiveFrom()
		Expect(status).To(Equal(StatusRetry))
	})

	It("should deliver back to back datagrams individually", func() {
		b.model.InjectUDPDatagram(socketID, remoteAddr, 5000, []byte("aa"))
		b.model.InjectUDPDatagram(socketID, remoteAddr, 5001, []byte("bb"))
		b.pump(400)

		buffer, _, srcPort, status := sock.ReceiveFrom()
		Expect(status).To(Equal(StatusSuccess))
		Expect(string(buffer.Bytes())).To(Equal("aa"))
		Expect(srcPort).To(Equal(uint16(5000)))

		buffer, _, srcPort, status = sock.ReceiveFrom()
		Expect(status).To(Equal(StatusSuccess))
		Expect(string(buffer.Bytes())).To(Equal("bb"))
		Expect(srcPort).To(Equal(uint16(5001)))
	})

	It("should defer a partially received datagram until it completes",
		func() {
			packet := simhal.BuildUDPPacket(
				remoteAddr, 5000, []byte("trickling"))
			b.model.InjectRawRx(socketID, packet[:10])
			b.pump(200)

			_, _, _, status := sock.ReceiveFrom()
			Expect(status).To(Equal(StatusRetry))

			b.model.InjectRawRx(socketID, packet[10:])
			b.pump(200)

			buffer, _, _, status := sock.ReceiveFrom()
			Expect(status).To(Equal(StatusSuccess))
			Expect(string(buffer.Bytes())).To(Equal("trickling"))
		})

	It("should report a protocol error from a terminal error state",
		func() {
			b.driver.mu.Lock()
			sock.state = udpError
			b.driver.mu.Unlock()

			Expect(sock.SendTo(bufferOf("x"), remoteAddr, 4096)).
				To(Equal(StatusProtocolError))
			_, _, _, status := sock.ReceiveFrom()
			Expect(status).To(Equal(StatusProtocolError))

			// The error state is recovered by closing and reopening.
			Expect(sock.Close()).To(Equal(StatusSuccess))
			b.pump(200)
			Expect(b.model.SocketStatus(socketID)).To(Equal(uint8(0x00)))
		})

	It("should close cleanly on request", func() {
		Expect(sock.Close()).To(Equal(StatusSuccess))
		b.pump(200)

		Expect(b.countEvents(NotifyUDPSocketClosed)).To(Equal(1))
		Expect(b.model.SocketStatus(socketID)).To(Equal(uint8(0x00)))
		Expect(sock.SendTo(bufferOf("x"), remoteAddr, 1)).
			To(Equal(StatusNotOpen))
	})

	It("should flush queued datagrams before honoring a close", func() {
		Expect(sock.SendTo(bufferOf("goodbye"), remoteAddr, 4096)).
			To(Equal(StatusSuccess))
		Expect(sock.Close()).To(Equal(StatusSuccess))
		b.pump(400)

		frames := b.model.SentFrames(socketID)
		Expect(frames).To(HaveLen(1))
		Expect(string(frames[0])).To(Equal("goodbye"))
		Expect(b.model.SocketStatus(socketID)).To(Equal(uint8(0x00)))
	})
})
