package anvil_test

import (
	"github.com/DerekF/pycraft/anvil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sector", func() {
	It("should convert pages to bytes", func() {
		s := anvil.Sector{Offset: 2, Count: 3}
		Expect(s.End()).To(Equal(uint32(5)))
		Expect(s.ByteOffset()).To(Equal(int64(8192)))
		Expect(s.ByteSize()).To(Equal(int64(12288)))
	})

	It("should order non-overlapping sectors", func() {
		a := anvil.Sector{Offset: 2, Count: 2}
		b := anvil.Sector{Offset: 4, Count: 1}
		Expect(a.Less(b)).To(BeTrue())
		Expect(b.Less(a)).To(BeFalse())

		// overlapping sectors are mutually un-ordered
		c := anvil.Sector{Offset: 3, Count: 3}
		Expect(a.Less(c)).To(BeFalse())
		Expect(c.Less(a)).To(BeFalse())
	})

	It("should detect intersections", func() {
		a := anvil.Sector{Offset: 2, Count: 2}
		Expect(a.Intersects(anvil.Sector{Offset: 3, Count: 4})).To(BeTrue())
		Expect(a.Intersects(anvil.Sector{Offset: 3, Count: 1})).To(BeTrue())
		Expect(a.Intersects(anvil.Sector{Offset: 0, Count: 3})).To(BeTrue())
		Expect(a.Intersects(a)).To(BeTrue())

		Expect(a.Intersects(anvil.Sector{Offset: 4, Count: 1})).To(BeFalse())
		Expect(a.Intersects(anvil.Sector{Offset: 0, Count: 2})).To(BeFalse())

		b := anvil.Sector{Offset: 1, Count: 4}
		Expect(b.Intersects(a)).To(Equal(a.Intersects(b)))
	})

	It("should marshal to location entries", func() {
		s := anvil.Sector{Offset: 0x010203, Count: 16}
		Expect(s.MarshalBinary()).To(Equal([]byte{1, 2, 3, 16}))

		var o anvil.Sector
		Expect(o.UnmarshalBinary([]byte{1, 2, 3, 16})).To(Succeed())
		Expect(o).To(Equal(s))
	})

	It("should refuse to marshal out-of-range sectors", func() {
		_, err := anvil.Sector{Offset: 1 << 24, Count: 1}.MarshalBinary()
		Expect(err).To(MatchError(anvil.ErrSectorRange))

		_, err = anvil.Sector{Offset: 2, Count: 256}.MarshalBinary()
		Expect(err).To(MatchError(anvil.ErrSectorRange))
	})

	It("should reject malformed location entries", func() {
		var s anvil.Sector
		Expect(s.UnmarshalBinary([]byte{1, 2, 3})).To(MatchError(anvil.ErrCorrupt))
		Expect(s.UnmarshalBinary([]byte{1, 2, 3, 4, 5})).To(MatchError(anvil.ErrCorrupt))
	})
})
