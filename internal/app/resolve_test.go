package app

import (
	"testing"

	"github.com/John-Robertt/qrexport/internal/domain"
)

func TestResolveAddresses_Fixed(t *testing.T) {
	got, err := ResolveAddresses(domain.FixedURL{URL: " https://example.com/map "}, []domain.SourceAddress{
		{ID: "a1", FormattedAddress: "12  Elm St"},
		{ID: "a2", FormattedAddress: ""},
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got[0].DestinationURL != "https://example.com/map" || got[1].DestinationURL != got[0].DestinationURL {
		t.Fatalf("FixedURL 应共用同一 URL：%+v", got)
	}
	if got[0].DisplayLabel != "12 Elm St" || got[1].DisplayLabel != "a2" {
		t.Fatalf("标签不符合预期：%+v", got)
	}
}

func TestResolveAddresses_PerAddress(t *testing.T) {
	got, err := ResolveAddresses(domain.PerAddressURL{Template: "https://example.com/a/{id}?src=qr"}, []domain.SourceAddress{
		{ID: "a 1/x", FormattedAddress: "x"},
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got[0].DestinationURL != "https://example.com/a/a%201%2Fx?src=qr" {
		t.Fatalf("URL 不符合预期：%q", got[0].DestinationURL)
	}
}

func TestResolveAddresses_InvalidInput(t *testing.T) {
	one := []domain.SourceAddress{{ID: "a1", FormattedAddress: "x"}}
	cases := []struct {
		name string
		dest domain.Destination
		src  []domain.SourceAddress
	}{
		{"empty list", domain.FixedURL{URL: "https://example.com"}, nil},
		{"nil dest", nil, one},
		{"relative fixed", domain.FixedURL{URL: "/map"}, one},
		{"no placeholder", domain.PerAddressURL{Template: "https://example.com/a"}, one},
		{"bad template", domain.PerAddressURL{Template: "example.com/{id}"}, one},
		{"dup id", domain.FixedURL{URL: "https://example.com"}, []domain.SourceAddress{{ID: "a"}, {ID: "a"}}},
		{"blank id", domain.FixedURL{URL: "https://example.com"}, []domain.SourceAddress{{ID: " "}}},
	}
	for _, tc := range cases {
		_, err := ResolveAddresses(tc.dest, tc.src)
		if domain.Code(err) != domain.ErrCodeInvalidInput {
			t.Fatalf("%s：期望 invalid_input，实际 %v", tc.name, err)
		}
	}
}
