package dispatcher

import (
	"io"

	"github.com/gin-gonic/gin"

	"goa.design/a2a-engine/runtime/wire"
)

// streamSSE drives SendStreamingMessage and SubscribeToTask: it starts the
// subscription, then renders each StoredEvent as an SSE frame until the
// subscription closes or the client disconnects.
func (d *Dispatcher) streamSSE(c *gin.Context, req *Request) {
	sub, eo := d.StartStream(c.Request.Context(), req, c.GetHeader(VersionHeader))
	if eo != nil {
		c.JSON(httpStatusFor(eo.Code), gin.H{"error": eo})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return false
			}
			frame := wire.EventToStreamResponse(e.Event)
			c.SSEvent("message", frame)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
