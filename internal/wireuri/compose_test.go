package wireuri

import "testing"

func modernZMQ() (int, int, int) { return 4, 3, 5 }
func oldZMQ() (int, int, int)    { return 4, 1, 5 }

func TestComposeNoSource(t *testing.T) {
	got := Compose("1.2.3.4", 4506, "", 0, modernZMQ)
	want := "tcp://1.2.3.4:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestComposeIPv6Bracketed(t *testing.T) {
	got := Compose("::1", 4506, "", 0, modernZMQ)
	want := "tcp://[::1]:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestComposeBothSourceAndDest(t *testing.T) {
	got := Compose("10.0.0.1", 4506, "10.0.0.5", 9000, modernZMQ)
	want := "tcp://10.0.0.5:9000;10.0.0.1:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestComposeSourceIPOnlyDefaultsPortZero(t *testing.T) {
	got := Compose("10.0.0.1", 4506, "10.0.0.5", 0, modernZMQ)
	want := "tcp://10.0.0.5:0;10.0.0.1:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestComposeSourcePortOnlyUsesAnyAddress(t *testing.T) {
	got := Compose("10.0.0.1", 4506, "", 9000, modernZMQ)
	want := "tcp://0.0.0.0:9000;10.0.0.1:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}

	got6 := Compose("fe80::1", 4506, "", 9000, modernZMQ)
	want6 := "tcp://[::]:9000;[fe80::1]:4506"
	if got6 != want6 {
		t.Errorf("Compose() = %q, want %q", got6, want6)
	}
}

func TestComposeFallsBackOnOldLibzmq(t *testing.T) {
	got := Compose("10.0.0.1", 4506, "10.0.0.5", 9000, oldZMQ)
	want := "tcp://10.0.0.1:4506"
	if got != want {
		t.Errorf("Compose() = %q, want %q (source should be ignored)", got, want)
	}
}

func TestSupportsSourceBind(t *testing.T) {
	cases := []struct {
		major, minor, patch int
		want                 bool
	}{
		{4, 1, 6, true},
		{4, 1, 5, false},
		{4, 2, 0, true},
		{5, 0, 0, true},
		{3, 9, 9, false},
	}
	for _, c := range cases {
		if got := SupportsSourceBind(c.major, c.minor, c.patch); got != c.want {
			t.Errorf("SupportsSourceBind(%d,%d,%d) = %v, want %v", c.major, c.minor, c.patch, got, c.want)
		}
	}
}

func TestComposeIPC(t *testing.T) {
	got := ComposeIPC("/var/run/zmesh/publisher.ipc")
	want := "ipc:///var/run/zmesh/publisher.ipc"
	if got != want {
		t.Errorf("ComposeIPC() = %q, want %q", got, want)
	}
}
