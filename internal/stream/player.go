package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/sonatabot/sonata/internal/gateway"
	"github.com/sonatabot/sonata/internal/track"
)

const frameInterval = 20 * time.Millisecond

// OpusStreamer decodes a cached audio file (or URL) to PCM, encodes 20 ms
// Opus frames and writes them to a voice connection at real-time pace.
type OpusStreamer struct{}

func NewOpusStreamer() *OpusStreamer { return &OpusStreamer{} }

// Stream plays input until EOF, a write error, or ctx cancellation.
// progress is called roughly once a second with the media position relative
// to seek.
func (o *OpusStreamer) Stream(
	ctx context.Context,
	input string,
	t track.Track,
	seek time.Duration,
	volume float64,
	vc gateway.VoiceConn,
	progress func(time.Duration),
) error {
	pcm, err := StartPCMStream(ctx, input, seek, volume)
	if err != nil {
		return &track.StreamError{Track: t.String(), Err: err}
	}
	defer pcm.Close()

	enc, err := NewEncoder()
	if err != nil {
		return &track.StreamError{Track: t.String(), Err: err}
	}
	defer enc.Close()

	r := bufio.NewReaderSize(pcm.Stdout(), 128*1024)
	frame := make([]byte, enc.FrameBytes())

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	lastReport := time.Duration(-1)

	for {
		if _, err := io.ReadFull(r, frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &track.StreamError{Track: t.String(), Err: err}
		}

		var writeErr error
		if err := enc.EncodeFrame(frame, func(pkt []byte) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := vc.WriteOpus(ctx, pkt); err != nil {
				writeErr = err
			}
			return writeErr
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if writeErr != nil {
				return &track.StreamError{Track: t.String(), Err: writeErr}
			}
			return &track.StreamError{Track: t.String(), Err: err}
		}

		elapsed += frameInterval
		if progress != nil && elapsed-lastReport >= time.Second {
			lastReport = elapsed
			progress(seek + elapsed)
		}
	}
}
