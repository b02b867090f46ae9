package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gtfsrtpb "github.com/OneBusAway/go-gtfs/proto"
	"google.golang.org/protobuf/proto"

	"vehicle-tracker/internal/vehicle"
)

// GTFSRTFeed reads a GTFS-realtime VehiclePositions feed. It has no window;
// every fetch returns the feed's current state.
type GTFSRTFeed struct {
	url  string
	http *httpDoer
}

func (f *GTFSRTFeed) Fetch(ctx context.Context, _, _ time.Time) ([]vehicle.RawPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-protobuf")
	b, err := f.http.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch gtfs-rt: %w", err)
	}
	feed := &gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(b, feed); err != nil {
		return nil, fmt.Errorf("decode gtfs-rt: %w", err)
	}
	return rawFromFeedMessage(feed), nil
}

func rawFromFeedMessage(feed *gtfsrtpb.FeedMessage) []vehicle.RawPosition {
	headerTS := feed.GetHeader().GetTimestamp()
	out := make([]vehicle.RawPosition, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		id := vp.GetVehicle().GetId()
		if id == "" {
			id = vp.GetVehicle().GetLabel()
		}
		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		raw := vehicle.RawPosition{
			VehicleID: id,
			LineID:    vp.GetTrip().GetRouteId(),
			Latitude:  vehicle.FlexString(strconv.FormatFloat(float64(vp.GetPosition().GetLatitude()), 'f', -1, 32)),
			Longitude: vehicle.FlexString(strconv.FormatFloat(float64(vp.GetPosition().GetLongitude()), 'f', -1, 32)),
		}
		if ts > 0 {
			// Parse reads integers as epoch milliseconds.
			raw.EventTime = vehicle.FlexString(strconv.FormatUint(ts*1000, 10))
		}
		if headerTS > 0 {
			raw.ServerTime = vehicle.FlexString(strconv.FormatUint(headerTS*1000, 10))
		}
		if vp.GetPosition().Speed != nil {
			raw.Speed = vehicle.FlexString(strconv.FormatFloat(float64(vp.GetPosition().GetSpeed()), 'f', -1, 32))
		}
		out = append(out, raw)
	}
	return out
}
