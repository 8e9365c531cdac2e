package shuttle

import (
	"context"

	"go.uber.org/zap"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

const reconcilePageSize = 3000

// MessagesByFidClient is the paginated half of the hub client.
type MessagesByFidClient interface {
	GetAllCastMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllReactionMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllLinkMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllVerificationMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
	GetAllUserDataMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)
}

// HubMessage is one message seen on the hub during reconciliation.
type HubMessage struct {
	Message     *hubpb.Message
	MissingInDb bool
}

type OnHubMessage func(ctx context.Context, m HubMessage) error

type pageFetcher func(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error)

type reconcileKind struct {
	name  string
	fetch pageFetcher
}

// MessageReconciliation redelivers every hub message of a fid. It does not diff
// against the database: each message is reported missing and the handler's
// upserts make the replay harmless.
type MessageReconciliation struct {
	client   MessagesByFidClient
	pageSize uint32
	log      *zap.Logger
}

func NewMessageReconciliation(client MessagesByFidClient, log *zap.Logger) *MessageReconciliation {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageReconciliation{client: client, pageSize: reconcilePageSize, log: log}
}

// kinds is the reconciliation order. Casts are left to the live stream.
func (r *MessageReconciliation) kinds() []reconcileKind {
	return []reconcileKind{
		{name: "link", fetch: r.client.GetAllLinkMessagesByFid},
		{name: "verification", fetch: r.client.GetAllVerificationMessagesByFid},
		{name: "user data", fetch: r.client.GetAllUserDataMessagesByFid},
		{name: "reaction", fetch: r.client.GetAllReactionMessagesByFid},
	}
}

func (r *MessageReconciliation) ReconcileMessagesForFid(ctx context.Context, fid uint64, onHubMessage OnHubMessage) error {
	if r.client == nil {
		return errs.ErrConfig.WrapMsg("hub client is not configured", "fid", fid)
	}
	for _, k := range r.kinds() {
		n, err := r.reconcileKind(ctx, fid, k, onHubMessage)
		if err != nil {
			return err
		}
		r.log.Debug("reconciled", zap.Uint64("fid", fid), zap.String("kind", k.name), zap.Int("messages", n))
	}
	return nil
}

// reconcileKind drains the nextPageToken chain for one kind.
func (r *MessageReconciliation) reconcileKind(ctx context.Context, fid uint64, k reconcileKind, onHubMessage OnHubMessage) (int, error) {
	var (
		token []byte
		n     int
	)
	for {
		resp, err := k.fetch(ctx, &hubpb.FidRequest{
			Fid:       fid,
			PageSize:  hubpb.Uint32(r.pageSize),
			PageToken: token,
		})
		if err != nil {
			return n, errs.ErrPagination.WrapCause(err, "Unable to get all "+k.name+" messages for FID", "fid", fid)
		}
		for _, m := range resp.Messages {
			if err := onHubMessage(ctx, HubMessage{Message: m, MissingInDb: true}); err != nil {
				return n, err
			}
			n++
		}
		if len(resp.NextPageToken) == 0 {
			return n, nil
		}
		token = resp.NextPageToken
	}
}

// FidReconciler pushes reconciled messages through the event processor.
type FidReconciler struct {
	recon     *MessageReconciliation
	processor *HubEventProcessor
	log       *zap.Logger
}

func NewFidReconciler(recon *MessageReconciliation, processor *HubEventProcessor, log *zap.Logger) *FidReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FidReconciler{recon: recon, processor: processor, log: log}
}

func (f *FidReconciler) ReconcileFids(ctx context.Context, fids []uint64) error {
	if f.recon == nil {
		return errs.ErrConfig.WrapMsg("reconciliation is not configured")
	}
	for _, fid := range fids {
		err := f.recon.ReconcileMessagesForFid(ctx, fid, func(ctx context.Context, m HubMessage) error {
			if !m.MissingInDb {
				return nil
			}
			return f.processor.HandleMissingMessage(ctx, m.Message)
		})
		if err != nil {
			return err
		}
		f.log.Info("reconciled fid", zap.Uint64("fid", fid))
	}
	return nil
}
