package main

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange é um intervalo fechado de dias de calendário [Start, End]
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// NewDateRange normaliza as datas para o dia de calendário e valida start <= end
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: dateOnly(start), End: dateOnly(end)}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidDateRange,
			r.Start.Format(dateLayout), r.End.Format(dateLayout))
	}
	return r, nil
}

// ParseDateRange lê duas datas no formato YYYY-MM-DD
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start date %q", ErrInvalidDateRange, start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end date %q", ErrInvalidDateRange, end)
	}
	return NewDateRange(s, e)
}

// ParseAsOf lê uma data YYYY-MM-DD como meia-noite no fuso do negócio
func ParseAsOf(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dateLayout, raw, loc)
}

// Overlaps informa se a janela compartilha ao menos um dia com a outra
func (r DateRange) Overlaps(other DateRange) bool {
	return Overlaps(r.Start, r.End, other.Start, other.End)
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// Overlaps compara dois intervalos fechados. Um dia de devolução e um dia de
// retirada iguais contam como conflito: a mesma unidade não atende as duas entregas.
// Os chamadores devem validar start <= end antes (ver NewDateRange).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// dateOnly descarta o horário mantendo o dia de calendário do valor
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween conta dias de calendário de from até to (negativo se to < from).
// from é convertido para loc antes de extrair o dia; to já é uma data.
func daysBetween(from time.Time, to time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	today := dateOnly(from.In(loc))
	return int(dateOnly(to).Sub(today).Hours() / 24)
}
