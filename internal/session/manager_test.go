package session

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/srg/pbit/internal/backend"
	"github.com/srg/pbit/internal/reading"
	"github.com/srg/pbit/internal/recorder"
	"github.com/srg/pbit/internal/testutils"
	"github.com/srg/pbit/internal/testutils/mocks"
	"github.com/srg/pbit/internal/transport"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

func modernFrame(temp uint16) []byte {
	data := make([]byte, reading.ModernFrameLen)
	data[0] = reading.ModernFrameMarker
	data[2] = 1
	binary.LittleEndian.PutUint16(data[3:], temp)
	return data
}

type capturedBatch struct {
	deviceName string
	body       string
}

type ManagerSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	radio  *testutils.FakeRadio
	server *httptest.Server

	mu      sync.Mutex
	batches []capturedBatch
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.radio = testutils.NewFakeRadio()
	s.batches = nil

	r := mux.NewRouter()
	r.HandleFunc("/"+backend.BatchPath, func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		s.mu.Lock()
		s.batches = append(s.batches, capturedBatch{deviceName: req.Header.Get(backend.HeaderDeviceName), body: string(body)})
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	s.server = httptest.NewServer(r)
	s.T().Cleanup(s.server.Close)
}

func (s *ManagerSuite) received() []capturedBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedBatch(nil), s.batches...)
}

func (s *ManagerSuite) newManager(sessionCtx recorder.SessionContext) *Manager {
	client, err := backend.NewClient(s.server.URL, backend.WithLogger(s.helper.Logger))
	s.Require().NoError(err)

	topts := transport.DefaultOptions()
	topts.ScanTimeout = 50 * time.Millisecond
	topts.Now = testutils.FixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	m := NewManager(s.radio, client, sessionCtx, &Options{
		Transport: topts,
		Recorder:  &recorder.Options{Interval: time.Hour, MaxSize: recorder.MaxBatchSize},
	}, s.helper.Logger)
	s.T().Cleanup(func() { m.Stop(context.Background()) })
	return m
}

func (s *ManagerSuite) readySession() recorder.SessionContext {
	return &backend.StaticCredentials{Token: "tok", Classroom: "class-1"}
}

func legacyOnly() *testutils.FakePeripheral {
	return testutils.NewPeripheralDeviceBuilder().
		WithService(transport.LegacyServiceUUID).
		WithCharacteristic(transport.LegacyCharUUID).
		Build()
}

func modernDevice() *testutils.FakePeripheral {
	return testutils.NewPeripheralDeviceBuilder().
		WithService(transport.ModernServiceUUID).
		WithCharacteristic(transport.ModernCharUUID).
		Build()
}

func (s *ManagerSuite) TestConnectFilteredStartsRecordingAndPublishes() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-12", p)
	m := s.newManager(s.readySession())

	var mu sync.Mutex
	var live []float64
	m.Subscribe(func(r reading.Reading) {
		mu.Lock()
		live = append(live, *r.Temperature)
		mu.Unlock()
	})

	info, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	s.Equal("PBIT-12", info.Name)
	s.True(m.IsConnected())
	s.True(m.IsRecording(), "recording starts as soon as the device streams")

	p.Emit(transport.ModernCharUUID, modernFrame(215))
	p.Emit(transport.ModernCharUUID, modernFrame(216))

	s.helper.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(live) == 2
	}, time.Second)
	s.Equal([]float64{21.5, 21.6}, live)
	s.Equal(2, m.Stats().Buffered)
}

func (s *ManagerSuite) TestReadingIsBufferedBeforeSubscribersSeeIt() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-1", p)
	m := s.newManager(s.readySession())

	seen := make(chan int, 1)
	m.Subscribe(func(reading.Reading) { seen <- m.Stats().Buffered })

	_, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	p.Emit(transport.ModernCharUUID, modernFrame(100))

	select {
	case buffered := <-seen:
		s.Equal(1, buffered)
	case <-time.After(time.Second):
		s.FailNow("subscriber was not called")
	}
}

// Filtered discovery never falls back to legacy; compatible discovery does.
func (s *ManagerSuite) TestLegacyDeviceEndToEnd() {
	p := legacyOnly()
	s.radio.WithDevice("PBIT-OLD", p)
	m := s.newManager(s.readySession())

	_, err := m.ConnectFiltered(context.Background())
	s.Require().ErrorIs(err, transport.ErrProtocolNotSupported)
	s.False(m.IsConnected())
	s.False(m.IsRecording())

	info, err := m.ConnectCompatible(context.Background())
	s.Require().NoError(err)
	s.Equal(reading.ProtocolLegacy, info.Protocol)

	p.Emit(transport.LegacyCharUUID, []byte(`{"air_temp":18.5,"soil_hum":30,"mic":7}`))
	s.helper.Eventually(func() bool { return m.Stats().Buffered == 1 }, time.Second)

	m.Stop(context.Background())

	s.False(m.IsConnected())
	s.False(m.IsRecording())
	s.Equal(2, p.CloseCount(), "closed after the rejected negotiation and again on stop")

	batches := s.received()
	s.Require().Len(batches, 1)
	s.Equal("PBIT-OLD", batches[0].deviceName)
	testutils.NewJSONAsserter(s.T()).Assert(batches[0].body, `{
		"readings": [{
			"timestamp": "2024-05-01T12:00:00.000Z",
			"temperature": 18.5, "thermometer": null,
			"humidity": null, "moisture": 30,
			"light": null, "sound": 7, "battery_level": null
		}]
	}`)
}

func (s *ManagerSuite) TestUnnamedDeviceUsesDefaultName() {
	p := legacyOnly()
	s.radio.WithPeripheral(p).WithAdvertisements(
		testutils.NewAdvertisementBuilder().WithAddress(p.Address()).Build(),
	)
	m := s.newManager(s.readySession())

	_, err := m.ConnectCompatible(context.Background())
	s.Require().NoError(err)
	p.Emit(transport.LegacyCharUUID, []byte(`{"temp":20}`))
	s.helper.Eventually(func() bool { return m.Stats().Buffered == 1 }, time.Second)

	m.Stop(context.Background())

	batches := s.received()
	s.Require().Len(batches, 1)
	s.Equal(recorder.DefaultDeviceName, batches[0].deviceName)
}

func (s *ManagerSuite) TestUnsolicitedDisconnectStopsSession() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-1", p)
	m := s.newManager(s.readySession())

	_, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	p.Emit(transport.ModernCharUUID, modernFrame(200))
	s.helper.Eventually(func() bool { return m.Stats().Buffered == 1 }, time.Second)

	p.Drop()

	s.helper.Eventually(func() bool { return !m.IsConnected() && !m.IsRecording() }, time.Second)
	s.Equal(1, p.CloseCount())
	s.Len(s.received(), 1, "final flush runs on radio loss")
}

func (s *ManagerSuite) TestStopWithoutClassroomDiscardsBuffer() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-1", p)
	m := s.newManager(&backend.StaticCredentials{Token: "tok"})

	_, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	p.Emit(transport.ModernCharUUID, modernFrame(200))
	s.helper.Eventually(func() bool { return m.Stats().Buffered == 1 }, time.Second)

	m.Stop(context.Background())

	s.Empty(s.received())
	s.Equal(0, m.Stats().Buffered)
}

func (s *ManagerSuite) TestStartRecordingAfterDeviceAdded() {
	sender := &mocks.MockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
	m := NewManager(s.radio, sender, mocks.NewReadySession("tok", "class-1"), nil, s.helper.Logger)

	s.False(m.IsRecording())
	m.StartRecordingAfterDeviceAdded()
	m.StartRecordingAfterDeviceAdded()
	s.True(m.IsRecording())
	s.False(m.IsConnected())

	m.Stop(context.Background())
	s.False(m.IsRecording())
}

func (s *ManagerSuite) TestStopIsIdempotent() {
	m := s.newManager(s.readySession())
	m.Stop(context.Background())
	m.Stop(context.Background())
	s.False(m.IsConnected())
}

func (s *ManagerSuite) TestManagersAreIndependent() {
	a := s.newManager(s.readySession())
	b := s.newManager(s.readySession())

	a.StartRecordingAfterDeviceAdded()
	s.True(a.IsRecording())
	s.False(b.IsRecording())
}

func (s *ManagerSuite) TestLateFrameAfterStopIsNotCarriedIntoNextSession() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-1", p)
	m := s.newManager(s.readySession())

	var seen []reading.Reading
	var mu sync.Mutex
	m.Subscribe(func(r reading.Reading) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	_, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	m.Stop(context.Background())

	// frame decoded by the pump while teardown is still in progress
	m.handle(reading.Reading{Timestamp: 1, Temperature: testutils.F(20)})
	s.Equal(0, m.Stats().Buffered)

	_, err = m.ConnectFiltered(context.Background())
	s.Require().NoError(err)
	s.Equal(0, m.Stats().Buffered, "new session starts with an empty buffer")

	m.handle(reading.Reading{Timestamp: 2, Temperature: testutils.F(21)})
	s.Equal(1, m.Stats().Buffered)

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(seen, 1)
	s.Equal(int64(2), seen[0].Timestamp)
}

func (s *ManagerSuite) TestLateFrameAfterConnectionLossIsDiscarded() {
	p := modernDevice()
	s.radio.WithDevice("PBIT-1", p)
	m := s.newManager(s.readySession())

	info, err := m.ConnectFiltered(context.Background())
	s.Require().NoError(err)

	m.connectionLost(info)
	m.handle(reading.Reading{Timestamp: 1, Temperature: testutils.F(20)})

	s.Equal(0, m.Stats().Buffered)
	s.False(m.IsRecording())
}
