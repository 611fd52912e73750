package dispatch

import (
	"context"

	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

// TransportDeliverer uploads delivery items back to the requester. A whole
// file goes out as a streamable video, chunks as documents.
type TransportDeliverer struct {
	Transport Transport
}

// DeliverFile implements pipeline.Deliverer.
func (d TransportDeliverer) DeliverFile(ctx context.Context, req *types.TransferRequest, item pipeline.Item) error {
	if item.Playable {
		return d.Transport.SendVideo(ctx, req.RequesterID, item.Path, item.Caption)
	}
	return d.Transport.SendDocument(ctx, req.RequesterID, item.Path, item.Caption)
}
