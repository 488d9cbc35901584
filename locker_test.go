package ocfl_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/preservio/ocfl"
)

func TestFileLockerExcludes(t *testing.T) {
	ctx := context.Background()
	locker := ocfl.NewFileLocker(time.Second)
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "file.txt", func() error {
				mu.Lock()
				counter++
				if counter > max {
					max = counter
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				counter--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if max != 1 {
		t.Fatalf("lock admitted %d holders", max)
	}
}

func TestFileLockerTimeout(t *testing.T) {
	ctx := context.Background()
	locker := ocfl.NewFileLocker(10 * time.Millisecond)
	release, err := locker.Lock(ctx, "held.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if _, err := locker.Lock(ctx, "held.txt"); !errors.Is(err, ocfl.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	// other paths are unaffected
	release2, err := locker.Lock(ctx, "other.txt")
	if err != nil {
		t.Fatal(err)
	}
	release2()
}

func TestFileLockerTryOnce(t *testing.T) {
	// a zero timeout means try-once, not wait-forever
	ctx := context.Background()
	locker := ocfl.NewFileLocker(0)
	release, err := locker.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := locker.Lock(ctx, "a"); !errors.Is(err, ocfl.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	release()
	release, err = locker.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	release()
}

func TestFileLockerCanceledContext(t *testing.T) {
	locker := ocfl.NewFileLocker(time.Minute)
	release, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Lock(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
