package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"vehicle-tracker/internal/vehicle"
)

const windowLayout = "2006-01-02 15:04:05"

// WindowFeed queries a JSON endpoint for every record reported between
// dataInicial and dataFinal, both local wall times in loc.
type WindowFeed struct {
	url  string
	loc  *time.Location
	http *httpDoer
}

type windowRecord struct {
	Ordem            vehicle.FlexString `json:"ordem"`
	Linha            vehicle.FlexString `json:"linha"`
	Latitude         vehicle.FlexString `json:"latitude"`
	Longitude        vehicle.FlexString `json:"longitude"`
	DataHora         vehicle.FlexString `json:"datahora"`
	DataHoraEnvio    vehicle.FlexString `json:"datahoraenvio"`
	DataHoraServidor vehicle.FlexString `json:"datahoraservidor"`
	Velocidade       vehicle.FlexString `json:"velocidade"`
}

func (f *WindowFeed) Fetch(ctx context.Context, from, to time.Time) ([]vehicle.RawPosition, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("dataInicial", from.In(f.loc).Format(windowLayout))
	q.Set("dataFinal", to.In(f.loc).Format(windowLayout))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	b, err := f.http.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	out, err := decodeRecords(b, func(r windowRecord) vehicle.RawPosition {
		return vehicle.RawPosition{
			VehicleID:  string(r.Ordem),
			LineID:     string(r.Linha),
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			EventTime:  r.DataHora,
			SentTime:   r.DataHoraEnvio,
			ServerTime: r.DataHoraServidor,
			Speed:      r.Velocidade,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("decode window response: %w", err)
	}
	return out, nil
}
