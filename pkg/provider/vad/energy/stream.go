package energy

import (
	"context"

	"github.com/MrWong99/speakline/pkg/provider/vad"
)

// streamBuffer is the capacity of the segment channel returned by Stream.
const streamBuffer = 8

// Stream runs d on its own goroutine, feeding it every frame received from
// frames and delivering approved segments on the returned channel. The
// channel is closed once frames is closed or ctx is done. d must not be used
// by anyone else while the stream runs.
//
// Consumers may block on the channel or poll it with a select default case.
// A slow consumer applies backpressure to the frame producer.
func Stream(ctx context.Context, d *Detector, frames <-chan []float32) <-chan vad.Segment {
	out := make(chan vad.Segment, streamBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				seg, emitted := d.FeedSamples(frame)
				if !emitted {
					continue
				}
				select {
				case out <- seg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
