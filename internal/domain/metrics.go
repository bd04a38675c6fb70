package domain

// Counters are incremental delivery outcome counts.
type Counters struct {
	Sent     int64
	Failed   int64
	Opened   int64
	Clicked  int64
	Attended int64
}

// Rates are derived from Counters; zero denominators yield zero.
type Rates struct {
	OpenRate        float64
	ClickRate       float64
	ClickToOpenRate float64
	FailureRate     float64
}

func (c Counters) Rates() Rates {
	return Rates{
		OpenRate:        Ratio(c.Opened, c.Sent),
		ClickRate:       Ratio(c.Clicked, c.Sent),
		ClickToOpenRate: Ratio(c.Clicked, c.Opened),
		FailureRate:     Ratio(c.Failed, c.Sent+c.Failed),
	}
}

// CampaignMetrics is a read-only snapshot for one event.
type CampaignMetrics struct {
	EventID        string
	Registered     int64
	Totals         Counters
	TotalRates     Rates
	AttendanceRate float64
	ByChannel      map[Channel]Counters
	ByTemplate     map[string]Counters
	ChannelRates   map[Channel]Rates
	TemplateRates  map[string]Rates
}

// Ratio divides num by den, returning 0 for a non-positive denominator.
func Ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
