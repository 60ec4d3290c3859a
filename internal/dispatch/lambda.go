package dispatch

import (
	"context"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
)

// HandleSQS processes an SQS batch and reports the records that failed so
// only those are redelivered.
func (d *Dispatcher) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, rec := range ev.Records {
		receiveCount, _ := strconv.Atoi(rec.Attributes["ApproximateReceiveCount"])
		if err := d.Process(ctx, rec.Body, receiveCount); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		d.logger.WarnContext(ctx, "batch completed with failures", "records", len(ev.Records), "failures", n)
	}
	return resp, nil
}
