package anvil_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DerekF/pycraft/anvil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("World", func() {
	var subject *anvil.World
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "anvil-world-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		subject, err = anvil.OpenWorld(filepath.Join(dir, "world"), &anvil.Options{Codec: rawCodec{}})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(subject.Close()).To(Succeed())
	})

	It("should create the directory and hold the session lock", func() {
		Expect(subject.Dir()).To(BeADirectory())
		Expect(filepath.Join(subject.Dir(), "session.lock")).To(BeAnExistingFile())

		_, err := anvil.OpenWorld(subject.Dir(), nil)
		Expect(err).To(MatchError(anvil.ErrWorldLocked))
	})

	It("should release the session lock on close", func() {
		Expect(subject.Close()).To(Succeed())

		reopened, err := anvil.OpenWorld(subject.Dir(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.Close()).To(Succeed())
	})

	It("should write and read chunks across regions", func() {
		coords := [][2]int{{0, 0}, {31, 31}, {32, 0}, {-1, -1}, {-32, 5}, {70, -70}}
		for _, c := range coords {
			Expect(subject.WriteDocument(c[0], c[1], chunkPayload(c[0], c[1], 2000))).To(Succeed())
		}
		for _, c := range coords {
			Expect(subject.HasChunk(c[0], c[1])).To(BeTrue(), "for %v", c)
			Expect(subject.ReadRaw(c[0], c[1])).To(Equal(chunkPayload(c[0], c[1], 2000)), "for %v", c)

			doc, err := subject.ReadDocument(c[0], c[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(doc).To(Equal(anvil.Document(chunkPayload(c[0], c[1], 2000))))
		}

		// chunks land in the region file addressed by their region coordinates
		for _, name := range []string{"r.0.0.mca", "r.1.0.mca", "r.-1.-1.mca", "r.-1.0.mca", "r.2.-3.mca"} {
			Expect(filepath.Join(subject.Dir(), name)).To(BeAnExistingFile())
		}
	})

	It("should report absent chunks without creating regions", func() {
		Expect(subject.HasChunk(1000, 1000)).To(BeFalse())
		Expect(subject.ReadRaw(1000, 1000)).To(BeNil())

		doc, err := subject.ReadDocument(1000, 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(BeNil())

		Expect(filepath.Join(subject.Dir(), "r.31.31.mca")).NotTo(BeAnExistingFile())
	})

	It("should share cached regions", func() {
		Expect(subject.WriteDocument(0, 0, chunkPayload(0, 0, 100))).To(Succeed())

		r1, err := subject.Region(0, 0)
		Expect(err).NotTo(HaveOccurred())
		r2, err := subject.Region(0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(r1).To(BeIdenticalTo(r2))

		_, err = subject.Region(9, 9)
		Expect(err).To(MatchError(anvil.ErrNotExist))
	})

	It("should survive cache eviction", func() {
		small, err := anvil.OpenWorld(filepath.Join(dir, "small"), &anvil.Options{Codec: rawCodec{}, CacheSize: 1})
		Expect(err).NotTo(HaveOccurred())
		defer small.Close()

		Expect(small.WriteDocument(0, 0, chunkPayload(0, 0, 1200))).To(Succeed())
		Expect(small.WriteDocument(32, 0, chunkPayload(32, 0, 1200))).To(Succeed()) // evicts r.0.0

		// the evicted region is reopened from disk, allocator state intact
		Expect(small.WriteDocument(0, 0, chunkPayload(0, 0, 1300))).To(Succeed())
		Expect(small.ReadRaw(0, 0)).To(Equal(chunkPayload(0, 0, 1300)))
		Expect(small.ReadRaw(32, 0)).To(Equal(chunkPayload(32, 0, 1200)))
	})

	It("should track chunk timestamps", func() {
		Expect(subject.Timestamp(0, 0)).To(BeTemporally("==", time.Unix(0, 0)))

		Expect(subject.WriteDocument(0, 0, chunkPayload(0, 0, 100))).To(Succeed())
		Expect(subject.Timestamp(0, 0)).To(BeTemporally("~", time.Now(), 2*time.Second))
	})

	It("should serve concurrent readers", func() {
		Expect(subject.WriteDocument(0, 0, chunkPayload(0, 0, 2000))).To(Succeed())
		Expect(subject.WriteDocument(33, 0, chunkPayload(33, 0, 2000))).To(Succeed())

		var wg sync.WaitGroup
		errs := make(chan error, 16)

		for i := 0; i < 16; i++ {
			x := (i % 2) * 33
			wg.Add(1)
			go func() {
				defer wg.Done()

				data, err := subject.ReadRaw(x, 0)
				if err == nil && !bytes.Equal(data, chunkPayload(x, 0, 2000)) {
					err = fmt.Errorf("unexpected payload for %d,0", x)
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
	})
})
