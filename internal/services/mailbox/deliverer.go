package mailbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

type Sender interface {
	Send(ctx context.Context, tenant models.Tenant, m *gomail.Message) error
}

type DraftSaver interface {
	Save(ctx context.Context, tenant models.Tenant, m *gomail.Message) (string, error)
}

type Deliverer struct {
	sender Sender
	drafts DraftSaver
	now    func() time.Time
	logger *zap.Logger
}

func NewDeliverer(sender Sender, drafts DraftSaver, logger *zap.Logger) *Deliverer {
	return &Deliverer{sender: sender, drafts: drafts, now: time.Now, logger: logger}
}

// Deliver sends the record's draft in AUTO mode or stores it as a mailbox draft in
// DRAFT mode. Persisting the SENT status is left to the caller.
func (d *Deliverer) Deliver(ctx context.Context, tenant models.Tenant, record models.Record) error {
	if err := ValidateRecipient(record.TargetEmail); err != nil {
		return err
	}
	if record.DraftSubject == "" || record.DraftBody == "" {
		return fmt.Errorf("record %s has no draft to deliver", record.ID)
	}

	m := BuildMessage(tenant, record, d.now(), d.logger)

	switch tenant.SendingMode {
	case models.SendingModeAuto:
		return d.sender.Send(ctx, tenant, m)
	case models.SendingModeDraft:
		folder, err := d.drafts.Save(ctx, tenant, m)
		if err != nil {
			return err
		}
		d.logger.Debug("Record staged as draft",
			zap.String("record_id", record.ID.String()),
			zap.String("folder", folder))
		return nil
	default:
		return fmt.Errorf("unknown sending mode %q", tenant.SendingMode)
	}
}
