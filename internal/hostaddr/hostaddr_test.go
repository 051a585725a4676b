package hostaddr

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		host    string
		want    Spec
		wantErr bool
	}{
		{
			name: "ipv4 with port",
			host: "aux://1.2.3.4:9000",
			want: Spec{IP: "1.2.3.4", Port: 9000},
		},
		{
			name: "trailing slashes stripped",
			host: "aux://1.2.3.4:9000///",
			want: Spec{IP: "1.2.3.4", Port: 9000},
		},
		{
			name: "default port",
			host: "aux://1.2.3.4",
			want: Spec{IP: "1.2.3.4", Port: DefaultPort},
		},
		{
			name: "bracketed ipv6 with port",
			host: "aux://[::1]:9000",
			want: Spec{IsIPv6: true, IP: "::1", Port: 9000},
		},
		{
			name: "bare ipv6 default port",
			host: "aux://::1",
			want: Spec{IsIPv6: true, IP: "::1", Port: DefaultPort},
		},
		{
			name: "hostname kept when resolution disabled",
			host: "aux://node.example:9000",
			want: Spec{IP: "node.example", Port: 9000},
		},
		{
			name:    "missing prefix",
			host:    "1.2.3.4:9000",
			wantErr: true,
		},
		{
			name:    "wrong scheme",
			host:    "http://1.2.3.4:9000",
			wantErr: true,
		},
		{
			name:    "empty remainder",
			host:    "aux://",
			wantErr: true,
		},
		{
			name:    "only slashes",
			host:    "aux://///",
			wantErr: true,
		},
		{
			name:    "port zero",
			host:    "aux://1.2.3.4:0",
			wantErr: true,
		},
		{
			name:    "port too large",
			host:    "aux://1.2.3.4:65536",
			wantErr: true,
		},
		{
			name:    "garbage port",
			host:    "aux://1.2.3.4:next",
			wantErr: true,
		},
		{
			name:    "extra port segment",
			host:    "aux://node.example:9000:junk",
			wantErr: true,
		},
		{
			name:    "colon garbage not an ipv6 literal",
			host:    "aux://::1:9000:junk",
			wantErr: true,
		},
		{
			name:    "empty host with port",
			host:    "aux://:9000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.host, false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestSpecHostPort(t *testing.T) {
	t.Parallel()

	if got := (Spec{IP: "1.2.3.4", Port: 9000}).HostPort(); got != "1.2.3.4:9000" {
		t.Fatalf("got %q", got)
	}
	if got := (Spec{IsIPv6: true, IP: "::1", Port: 9000}).HostPort(); got != "[::1]:9000" {
		t.Fatalf("got %q", got)
	}
}
