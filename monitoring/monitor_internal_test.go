package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zynaptic/w5500go/hal/simhal"
	"github.com/zynaptic/w5500go/kernel"
	"github.com/zynaptic/w5500go/w5500"
)

var testMACAddr = [6]byte{0x02, 0x00, 0x00, 0x12, 0x34, 0x56}

// newTestDriver builds a driver on the simulated device. The driver is
// never started, so its snapshots report the pre-bring-up state.
func newTestDriver() *w5500.Driver {
	model := simhal.NewModel()
	driver, err := w5500.New(kernel.NewEngine(nil), w5500.Config{
		Bus:          model,
		Device:       model,
		ResetPin:     model.ResetPin(),
		InterruptPin: model.InterruptPin(),
		MACAddr:      testMACAddr,
		MaxSockets:   4,
	})
	Expect(err).ToNot(HaveOccurred())
	return driver
}

var _ = Describe("Monitor", func() {
	var m *Monitor

	BeforeEach(func() {
		m = NewMonitor()
	})

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.routes().ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
		return rec
	}

	It("should register drivers", func() {
		m.RegisterDriver(newTestDriver())
		m.RegisterDriver(newTestDriver())
		Expect(m.drivers).To(HaveLen(2))
	})

	It("should list snapshots for all registered drivers", func() {
		m.RegisterDriver(newTestDriver())

		rec := get("/api/status")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).
			To(Equal("application/json"))

		var snapshots []w5500.Diagnostics
		Expect(json.Unmarshal(rec.Body.Bytes(), &snapshots)).To(Succeed())
		Expect(snapshots).To(HaveLen(1))
		Expect(snapshots[0].Running).To(BeFalse())
		Expect(snapshots[0].MACAddr).To(Equal(testMACAddr))
		Expect(snapshots[0].Sockets).To(HaveLen(4))
		Expect(snapshots[0].Sockets[0].Phase).To(Equal("closed"))
		Expect(snapshots[0].Sockets[0].BufferSize).To(Equal(4096))
	})

	It("should serve a single driver snapshot by index", func() {
		m.RegisterDriver(newTestDriver())

		rec := get("/api/driver/0")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var snapshot w5500.Diagnostics
		Expect(json.Unmarshal(rec.Body.Bytes(), &snapshot)).To(Succeed())
		Expect(snapshot.MACAddr).To(Equal(testMACAddr))
	})

	It("should reject unknown driver indexes", func() {
		m.RegisterDriver(newTestDriver())

		Expect(get("/api/driver/1").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/driver/-1").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/driver/bad").Code).To(Equal(http.StatusNotFound))
	})

	It("should report process resource usage", func() {
		rec := get("/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should refuse privileged monitoring ports", func() {
		Expect(m.WithPortNumber(80).portNumber).To(BeZero())
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
