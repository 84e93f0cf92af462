package ratelimiter

import "github.com/llmonpy/ratellmiter/pkg/ratelog"

// toRecord converts a Ticket into its persisted form.
func ticketToRecord(t Ticket) ratelog.TicketRecord {
	events := make([]ratelog.RateLimitEventRecord, len(t.Events))
	for i, e := range t.Events {
		events[i] = ratelog.RateLimitEventRecord{
			IssuedSecond:   e.IssuedSecond,
			LimitedSecond:  e.LimitedSecond,
			Reissued:       e.Reissued,
			ReissuedSecond: e.ReissuedSecond,
		}
	}
	return ratelog.TicketRecord{
		RequestID:            t.RequestID,
		InitialRequestSecond: t.InitialRequestSecond,
		CorrelationID:        t.CorrelationID,
		Model:                t.Model,
		Issued:               t.Issued,
		IssuedNumber:         t.IssuedNumber,
		IssuedSecond:         t.IssuedSecond,
		Events:               events,
		Finished:             t.Finished,
		FinishedSecond:       t.FinishedSecond,
	}
}

func ticketFromRecord(r ratelog.TicketRecord) Ticket {
	events := make([]RateLimitEvent, len(r.Events))
	for i, e := range r.Events {
		events[i] = RateLimitEvent{
			IssuedSecond:   e.IssuedSecond,
			LimitedSecond:  e.LimitedSecond,
			Reissued:       e.Reissued,
			ReissuedSecond: e.ReissuedSecond,
		}
	}
	return Ticket{
		RequestID:            r.RequestID,
		InitialRequestSecond: r.InitialRequestSecond,
		CorrelationID:        r.CorrelationID,
		Model:                r.Model,
		Issued:               r.Issued,
		IssuedNumber:         r.IssuedNumber,
		IssuedSecond:         r.IssuedSecond,
		Events:               events,
		Finished:             r.Finished,
		FinishedSecond:       r.FinishedSecond,
	}
}

func ticketsToRecords(tickets []Ticket) []ratelog.TicketRecord {
	out := make([]ratelog.TicketRecord, len(tickets))
	for i, t := range tickets {
		out[i] = ticketToRecord(t)
	}
	return out
}

func ticketsFromRecords(records []ratelog.TicketRecord) []Ticket {
	out := make([]Ticket, len(records))
	for i, r := range records {
		out[i] = ticketFromRecord(r)
	}
	return out
}

// secondBucketToRecord converts a SecondBucket into its persisted form.
func secondBucketToRecord(b *SecondBucket) ratelog.SecondBucketRecord {
	return ratelog.SecondBucketRecord{
		BucketID:             b.BucketID,
		TicketCount:          b.TicketCount,
		IssuedCount:          b.IssuedCount,
		SecondRequestedCount: b.SecondRequestedCount,
		Issued:               ticketsToRecords(b.Issued),
		Overflow:             ticketsToRecords(b.Overflow),
		RateLimited:          ticketsToRecords(b.RateLimited),
		Finished:             ticketsToRecords(b.Finished),
	}
}

func secondBucketFromRecord(r ratelog.SecondBucketRecord) *SecondBucket {
	return &SecondBucket{
		BucketID:             r.BucketID,
		TicketCount:          r.TicketCount,
		IssuedCount:          r.IssuedCount,
		SecondRequestedCount: r.SecondRequestedCount,
		Issued:               ticketsFromRecords(r.Issued),
		Overflow:             ticketsFromRecords(r.Overflow),
		RateLimited:          ticketsFromRecords(r.RateLimited),
		Finished:             ticketsFromRecords(r.Finished),
	}
}

// minuteBucketToRecord converts a retiring MinuteBucket into the
// self-describing record persisted by ratelog.
func minuteBucketToRecord(mb *MinuteBucket) ratelog.MinuteBucketRecord {
	seconds := make([]ratelog.SecondBucketRecord, secondsPerMinute)
	for i, s := range mb.Seconds {
		seconds[i] = secondBucketToRecord(s)
	}
	return ratelog.MinuteBucketRecord{
		LimiterName:    mb.LimiterName,
		StartISO:       mb.StartISO,
		StartEpoch:     mb.StartEpoch,
		MaxPerSecond:   mb.Ramp.MaxPerSecond,
		StartRamp:      mb.Ramp.StartRamp,
		Delta:          mb.Ramp.Delta,
		RequestedCount: mb.RequestedCount(),
		FinishedCount:  mb.FinishedCount(),
		CurrentIndex:   mb.CurrentIndex,
		Seconds:        seconds,
	}
}

// MinuteBucketFromRecord reconstructs an in-memory MinuteBucket from a
// persisted record, for log replay (component H). The result is
// structurally equivalent to the bucket that was originally logged.
func MinuteBucketFromRecord(r ratelog.MinuteBucketRecord) *MinuteBucket {
	mb := &MinuteBucket{
		LimiterName: r.LimiterName,
		StartISO:    r.StartISO,
		StartEpoch:  r.StartEpoch,
		Ramp: RampParams{
			MaxPerSecond: r.MaxPerSecond,
			StartRamp:    r.StartRamp,
			Delta:        r.Delta,
		},
		CurrentIndex: r.CurrentIndex,
	}
	for i, s := range r.Seconds {
		if i >= secondsPerMinute {
			break
		}
		mb.Seconds[i] = secondBucketFromRecord(s)
	}
	return mb
}
