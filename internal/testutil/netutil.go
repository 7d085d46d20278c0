package testutil

import (
	"net"
	"testing"
)

// ListenTCP создаёт TCP listener на случайном порту для тестов.
// Возвращает listener и адрес в формате "host:port".
// Listener закрывается при завершении теста, если его не закрыл владелец.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}

// ListenMesh создаёт по одному listener на каждый ранг полной сетки.
// Адреса известны до старта узлов, поэтому ранги можно поднимать в любом порядке.
func ListenMesh(t testing.TB, size int) ([]net.Listener, []string) {
	t.Helper()

	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for r := range size {
		listeners[r], addrs[r] = ListenTCP(t)
	}
	return listeners, addrs
}
