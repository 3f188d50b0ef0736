// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
)

// LevelSource is polled for the most recent block level.
type LevelSource interface {
	LatestLevel() audio.Level
}

// SpectrumSource optionally supplies magnitudes appended to each packet.
type SpectrumSource interface {
	Bins() int
	MagnitudesInto(dst []float64) error
}

// PacketSender transmits one encoded packet.
type PacketSender interface {
	Send(packet []byte) error
}

/*
Packet layout (big endian):

	| Field      | Type      | Bytes | Description                     |
	|------------|-----------|-------|---------------------------------|
	| Sequence   | uint32    | 4     | Monotonically increasing        |
	| Timestamp  | int64     | 8     | Nanoseconds since epoch         |
	| RMS        | float32   | 4     | RMS of the latest block         |
	| DBFS       | float32   | 4     | RMS relative to full scale      |
	| Bin count  | uint16    | 2     | Number of magnitudes (N)        |
	| Magnitudes | []float32 | N*4   | Spectrum of the latest frame    |
*/
const headerSize = 4 + 8 + 4 + 4 + 2

// Publisher periodically polls a LevelSource and sends the level as a
// binary packet. Polling never touches the capture path.
type Publisher struct {
	sender   PacketSender
	source   LevelSource
	spectrum SpectrumSource
	interval time.Duration

	mu     sync.Mutex // Protects done during Start/Stop.
	done   chan struct{}
	wg     sync.WaitGroup
	seq    uint32
	mags   []float64
	packet []byte
	now    func() time.Time
}

// NewPublisher creates a publisher. spectrum may be nil. An interval <= 0
// defaults to 16ms (~60Hz).
func NewPublisher(interval time.Duration, sender PacketSender, source LevelSource, spectrum SpectrumSource) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp publisher: sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("udp publisher: level source cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	bins := 0
	if spectrum != nil {
		bins = min(spectrum.Bins(), math.MaxUint16)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s, Bins: %d)", interval, bins)

	return &Publisher{
		sender:   sender,
		source:   source,
		spectrum: spectrum,
		interval: interval,
		mags:     make([]float64, bins),
		packet:   make([]byte, headerSize+4*bins),
		now:      time.Now,
	}, nil
}

// Start launches the publishing goroutine. Calling it while running is a
// no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return
	}
	done := make(chan struct{})
	p.done = done

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.publish(); err != nil {
					applog.Debugf("UDPPublisher: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// Stop ends publishing and waits for the goroutine. Calling it when
// stopped is a no-op.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.done)
	p.done = nil
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Close stops the publisher.
func (p *Publisher) Close() error { return p.Stop() }

// publish builds one packet into the reusable buffer and sends it.
func (p *Publisher) publish() error {
	lvl := p.source.LatestLevel()
	p.seq++

	b := p.packet
	binary.BigEndian.PutUint32(b[0:], p.seq)
	binary.BigEndian.PutUint64(b[4:], uint64(p.now().UnixNano()))
	binary.BigEndian.PutUint32(b[12:], math.Float32bits(float32(lvl.RMS)))
	binary.BigEndian.PutUint32(b[16:], math.Float32bits(float32(lvl.DBFS())))

	n := 0
	if p.spectrum != nil && len(p.mags) > 0 {
		if err := p.spectrum.MagnitudesInto(p.mags); err == nil {
			n = len(p.mags)
		}
	}
	binary.BigEndian.PutUint16(b[20:], uint16(n))
	for i, m := range p.mags[:n] {
		binary.BigEndian.PutUint32(b[headerSize+4*i:], math.Float32bits(float32(m)))
	}
	return p.sender.Send(b[:headerSize+4*n])
}

// Packet is a decoded level packet.
type Packet struct {
	Seq        uint32
	Timestamp  time.Time
	RMS        float32
	DBFS       float32
	Magnitudes []float32
}

// Decode parses a packet produced by Publisher.
func Decode(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return Packet{}, errors.New("udp packet too short")
	}
	n := int(binary.BigEndian.Uint16(b[20:]))
	if len(b) != headerSize+4*n {
		return Packet{}, errors.New("udp packet length does not match bin count")
	}
	p := Packet{
		Seq:        binary.BigEndian.Uint32(b[0:]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(b[4:]))),
		RMS:        math.Float32frombits(binary.BigEndian.Uint32(b[12:])),
		DBFS:       math.Float32frombits(binary.BigEndian.Uint32(b[16:])),
		Magnitudes: make([]float32, n),
	}
	for i := range p.Magnitudes {
		p.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(b[headerSize+4*i:]))
	}
	return p, nil
}
